package assistant

import modelpkg "github.com/stupiduntilnot/enerlytic/internal/model"

const (
	msgQuota        = "Entschuldigung, aber ich habe momentan keine verfügbaren API-Credits mehr. Bitte kontaktieren Sie den Administrator."
	msgAuth         = "Es gibt ein Problem mit dem API-Schlüssel. Bitte kontaktieren Sie den Administrator."
	msgConnectivity = "Entschuldigung, aber es gibt momentan Verbindungsprobleme. Bitte versuchen Sie es in ein paar Minuten erneut."
	msgGeneric      = "Entschuldigung, es gab ein Problem bei der Verarbeitung Ihrer Anfrage. Bitte versuchen Sie es später erneut."
)

var failureMessages = map[modelpkg.FailureKind]string{
	modelpkg.FailureAuth:         msgAuth,
	modelpkg.FailureQuota:        msgQuota,
	modelpkg.FailureConnectivity: msgConnectivity,
	modelpkg.FailureTimeout:      msgConnectivity,
	modelpkg.FailureUnclassified: msgGeneric,
}

// FailureMessage returns the user-facing text for a failure kind. Unknown
// kinds get the generic text.
func FailureMessage(kind modelpkg.FailureKind) string {
	if msg, ok := failureMessages[kind]; ok {
		return msg
	}
	return msgGeneric
}
