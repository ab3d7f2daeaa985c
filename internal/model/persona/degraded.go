package persona

// Reason names why the chat backend could not answer.
type Reason string

const (
	ReasonThrottled   Reason = "RATE_LIMIT"
	ReasonTimeout     Reason = "TIMEOUT"
	ReasonUnavailable Reason = "SERVICE_UNAVAILABLE"
	ReasonQuota       Reason = "QUOTA_EXCEEDED"
	ReasonBudget      Reason = "BUDGET_EXCEEDED"
)

// RetryAfter is the advisory delay, in seconds, attached to a degraded reply.
func (r Reason) RetryAfter() int {
	switch r {
	case ReasonThrottled:
		return 60
	case ReasonTimeout:
		return 30
	case ReasonQuota:
		return 3600
	case ReasonBudget:
		return 86400
	default:
		return 300
	}
}

var degradedReplies = map[Reason]map[ID]string{
	ReasonThrottled: {
		Emma:      "Oups ! 😅 Je suis un peu débordée là. Reviens dans une minute ? En attendant, rappelle-toi que tu es extraordinaire ! 💕",
		Laure:     "Limite temporaire atteinte. Je reviens dans 60 secondes. Profitez de cette pause pour noter vos ressentis actuels.",
		Sylvie:    "Ma chérie, il y a un petit embouteillage technique. Patiente juste une minute, je serai vite de retour pour t'accompagner.",
		Christine: "Service temporairement saturé. Prenez ce moment pour respirer profondément. Je serai là pour vous dans un instant.",
		Clara:     "Hey ! 😊 Trop de monde en même temps ! Laisse-moi une minute pour me remettre d'aplomb. On reprend très vite notre super conversation !",
	},
	ReasonTimeout: {
		Emma:      "Timeout ! ⏰ Je réfléchissais trop à ta question ! 😄 Réessaie, je serai plus rapide cette fois !",
		Laure:     "Délai de réponse dépassé. Veuillez reformuler votre demande pour une réponse optimisée.",
		Sylvie:    "Ma chérie, j'ai pris trop de temps à réfléchir ! Pose-moi ta question à nouveau, je serai plus réactive.",
		Christine: "Le temps de réflexion a été trop long. Reformulez votre pensée, je vous écoute attentivement.",
		Clara:     "Oups ! ⏰ J'ai pris trop de temps à mijoter ma réponse ! Relance-moi ta question, je promets d'être plus speed ! 😊",
	},
	ReasonUnavailable: {
		Emma:      "Petit bug technique ! 🤖 Mais ton cycle, lui, continue parfaitement ! Réessaie dans 5 minutes ? 💕",
		Laure:     "Service temporairement indisponible. Maintenance en cours. Retry dans 5 minutes pour un service optimal.",
		Sylvie:    "Ma chérie, il y a un petit souci technique. Prends ces 5 minutes pour toi, et on reprend notre conversation après !",
		Christine: "Difficulté technique momentanée. Accordez-vous 5 minutes de pause, puis nous reprendrons sereinement.",
		Clara:     "Bug technique détecté ! 🔧 Parfait moment pour un mini-break ! Dans 5 minutes, je serai de retour en pleine forme ! ✨",
	},
	ReasonQuota: {
		Emma:      "Oh là là ! 😓 J'ai atteint ma limite quotidienne. Mais ne t'inquiète pas, ton cycle ne s'arrête pas ! Prends soin de toi et retrouvons-nous demain ! 💫",
		Laure:     "Quota API atteint pour aujourd'hui. Service disponible demain. Continuez à écouter votre corps en attendant.",
		Sylvie:    "Ma chérie, j'ai épuisé mes ressources pour aujourd'hui. Repose-toi bien, et on se retrouve demain pour continuer ensemble.",
		Christine: "Les limites quotidiennes sont atteintes. Prenez ce temps pour vous recentrer. À demain pour poursuivre notre accompagnement.",
		Clara:     "Wouah ! 🤩 J'ai donné tout ce que j'avais aujourd'hui ! Recharge tes batteries cette nuit, et demain on reprend avec encore plus d'énergie !",
	},
	ReasonBudget: {
		Emma:      "Petit souci technique côté budget ! 💸 Mais toi, tu continues d'être fabuleuse ! On se retrouve très bientôt, promis ! ✨",
		Laure:     "Budget de service atteint. Maintenance préventive en cours. Service rétabli sous 24h maximum.",
		Sylvie:    "Ma chérie, nous devons faire une petite pause technique. Ton bien-être reste ma priorité. À très bientôt !",
		Christine: "Une pause s'impose pour des raisons techniques. Utilisez ce temps pour la réflexion et l'introspection.",
		Clara:     "Oops ! 😅 Budget technique atteint ! Mais ça me donne l'occasion de me reposer pour être encore meilleure demain ! À très vite !",
	},
}

// DegradedReply returns the in-voice message shown when the backend failed
// for the given reason. Personas without their own line speak as Clara.
func DegradedReply(raw string, reason Reason) string {
	replies, ok := degradedReplies[reason]
	if !ok {
		replies = degradedReplies[ReasonUnavailable]
	}
	if msg, ok := replies[Parse(raw)]; ok {
		return msg
	}
	return replies[Clara]
}
