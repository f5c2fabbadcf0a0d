// Package texts holds the fixed German user-facing texts of the bot.
package texts

import "strings"

// SystemPrompt is the default instruction seeded as the first turn of every
// conversation record.
const SystemPrompt = `Du bist ein hilfreicher Assistent, der Benutzer bei der Energieeinsparung unterstützt. Deine Aufgabe ist es:

1. Dich auf energietechnische Fragen zu konzentrieren und andere Themen höflich abzulehnen oder auf energierelevante Aspekte zu lenken
2. Den Benutzer durch strukturierte Abfragen zu führen, um personalisierte Energiespartipps zu geben
3. Konkrete und umsetzbare Empfehlungen für Energieeffizienz in der Wohnung durch Produkte und Maßnahmen zu geben
4. Verständliche und prägnante Erklärungen zu liefern, ohne zu technisch zu werden
5. Potenzielle Kosteneinsparungen durch empfohlene Maßnahmen zu berechnen und dem Nutzer zu präsentieren

Stelle dem Benutzer Fragen zu seiner Wohnsituation, seinen Geräten und seinem Verhalten, um möglichst detaillierte Informationen für personalisierte Empfehlungen zu erhalten.
Konzentriere dich auf Maßnahmen wie energieeffiziente Beleuchtung, wassersparende Duschköpfe, smarte Thermostate, Abdichtungen und optimierte Stromverträge.
Vermeide zu technische Erklärungen und fokussiere dich stattdessen auf die Vorteile und die Umsetzbarkeit der Empfehlungen.`

const Welcome = "Willkommen beim Energiespar-Assistenten! 👋\n\n" +
	"Ich bin hier, um dir zu helfen, Energie und damit Geld zu sparen. " +
	"Du kannst mir Textnachrichten, Sprachnachrichten oder Bilder schicken, " +
	"und ich werde versuchen, dir nützliche Tipps zu geben.\n\n" +
	"Wie kann ich dir heute helfen?"

const Help = "Hier sind einige Möglichkeiten, wie du mit mir interagieren kannst:\n\n" +
	"- Sende mir eine Textnachricht mit Fragen zu Energiespartipps\n" +
	"- Sende mir ein Foto deines Raumes oder deiner Geräte für spezifische Empfehlungen\n" +
	"- Sende mir eine Sprachnachricht, wenn du nicht tippen möchtest\n" +
	"- Verwende /reset, um unsere Unterhaltung neu zu starten\n" +
	"- /privacy zeigt die Datenschutzerklärung, /terms die Nutzungsbedingungen\n\n" +
	"Ich bin hier, um zu helfen!"

const (
	ResetDone        = "Unsere Unterhaltung wurde zurückgesetzt. Wie kann ich dir jetzt helfen?"
	Unsupported      = "Entschuldigung, aber ich kann nur Text-, Sprach- und Bildnachrichten verarbeiten."
	UnknownCommand   = "Diesen Befehl kenne ich nicht. Mit /help siehst du, was ich kann."
	VoiceProcessing  = "Ich verarbeite deine Audiodatei..."
	ImageProcessing  = "Ich analysiere dein Foto..."
	VoiceFailed      = "Es tut mir leid, ich konnte die Audiodatei nicht verarbeiten."
	ImageFailed      = "Es tut mir leid, ich konnte das Bild nicht verarbeiten."
	Unexpected       = "Es ist ein unerwarteter Fehler aufgetreten. Bitte versuchen Sie es später noch einmal."
	VoiceUnderstood  = "Ich habe folgendes verstanden: "
	DefaultImageText = "Hier ist ein Bild. Kannst du mir Energiespartipps basierend auf diesem Bild geben?"
)

// Understood echoes a voice transcript back to the user.
func Understood(transcript string) string {
	return VoiceUnderstood + strings.TrimSpace(transcript)
}

const Privacy = `📋 Datenschutzerklärung für Enerlytic Bot

1. Datenerhebung und -verwendung
- Wir speichern Ihre Telegram-ID und Ihren Gesprächsverlauf zur Verarbeitung Ihrer Anfragen
- Die Kommunikation wird über OpenAI verarbeitet
- Wir verwenden keine Tracking-Tools oder Cookies

2. Datenspeicherung
- Ihr Gesprächsverlauf wird gespeichert, damit der Assistent den Zusammenhang kennt
- Mit /reset können Sie Ihren Verlauf jederzeit löschen
- Keine Weitergabe von persönlichen Daten an Dritte

3. OpenAI Integration
- Ihre Anfragen werden zur Verarbeitung an OpenAI weitergeleitet
- Details zu OpenAIs Datenschutz: https://openai.com/privacy

4. Ihre Rechte
- Recht auf Auskunft über gespeicherte Daten
- Recht auf Löschung Ihrer Daten
- Recht auf Einschränkung der Verarbeitung

5. Kontakt
Bei Fragen zum Datenschutz kontaktieren Sie uns bitte über Telegram.`

const Terms = `📋 Nutzungsbedingungen für den Enerlytic Bot

1️⃣ Beschreibung des Dienstes
• Der Enerlytic Bot ist ein KI-gestützter Assistent für Energiespartipps
• Der Bot bietet personalisierte Empfehlungen zum Energiesparen
• Wir können Produktempfehlungen über Affiliate-Links bereitstellen
• Der Service nutzt KI-Modelle von OpenAI für die Kommunikation

2️⃣ Haftungsausschluss
• Wir übernehmen keine Garantie für tatsächliche Energieeinsparungen
• Die Empfehlungen des Bots ersetzen keine professionelle Energieberatung
• Alle Tipps sollten vor der Umsetzung auf ihre individuelle Anwendbarkeit geprüft werden
• Wir haften nicht für Schäden, die aus der Nutzung der Empfehlungen entstehen

3️⃣ Nutzungsbeschränkungen
• Die Nutzung des Bots ist ausschließlich für private Zwecke gestattet
• Nicht erlaubt sind:
  - Automatisierte Massenabfragen
  - Missbrauch oder Manipulation des Bots
  - Weiterverkauf oder kommerzielle Nutzung der Antworten
  - Verbreitung illegaler oder schädlicher Inhalte

4️⃣ Kosten und Nutzung
• Die grundlegende Nutzung des Bots ist kostenlos
• Wir nutzen kostenpflichtige KI-Modelle (OpenAI)
• Wir behalten uns vor, zukünftig Premium-Funktionen einzuführen

5️⃣ Affiliate-Links
• Der Bot kann Produktempfehlungen mit Affiliate-Links aussprechen
• Bei Käufen über diese Links erhalten wir möglicherweise eine Provision
• Dies hat keine Auswirkung auf den Kaufpreis für Sie
• Affiliate-Links werden immer als solche gekennzeichnet

6️⃣ Datenschutz
• Für Informationen zur Datenverarbeitung siehe unsere Datenschutzerklärung (/privacy)
• Wir speichern nur die für den Betrieb notwendigen Daten
• Ihre Daten werden nicht ohne Ihre Zustimmung an Dritte weitergegeben

7️⃣ Änderungen der Nutzungsbedingungen
• Wir behalten uns vor, diese Nutzungsbedingungen jederzeit zu ändern
• Über wesentliche Änderungen werden Sie informiert
• Die weitere Nutzung nach Änderungen gilt als Zustimmung

Bei Fragen zu den Nutzungsbedingungen kontaktieren Sie uns bitte unter:
📧 terms@enerlytic.de`
