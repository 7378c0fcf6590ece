package moderator

import (
	"fmt"
	"strings"

	"github.com/consejo-ai/consejo/provider"
)

// providerWeight breaks ties between similarly sized answers in favour of
// the historically stronger providers.
var providerWeight = map[string]int{
	"openai":    100,
	"anthropic": 50,
}

// selectFallback ranks responses by answer length plus provider weight and
// returns the best one. Error'd responses rank by their message so that an
// all-failed round still yields something to show.
func selectFallback(responses []provider.Response) (provider.Response, bool) {
	var best provider.Response
	bestScore := -1
	for _, r := range responses {
		score := len(fallbackText(r)) + providerWeight[strings.ToLower(r.Provider)]
		if score > bestScore {
			best, bestScore = r, score
		}
	}
	return best, bestScore >= 0
}

func fallbackText(r provider.Response) string {
	if r.Text != "" {
		return r.Text
	}
	return r.ErrorMessage
}

// wrapFallback labels a substituted individual answer.
func wrapFallback(r provider.Response) string {
	return fmt.Sprintf("**Respuesta seleccionada de %s:**\n\n%s", strings.ToUpper(r.Provider), fallbackText(r))
}

// wrapSingle labels the only successful answer of a round.
func wrapSingle(r provider.Response) string {
	return fmt.Sprintf("**Respuesta única de %s:**\n\n%s", strings.ToUpper(r.Provider), r.Text)
}
