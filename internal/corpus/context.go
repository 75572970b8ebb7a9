package corpus

import "strings"

// contextKeywords score a thread or utterance toward a dialog context.
// Thread titles are the strongest signal; message text is the fallback.
var contextKeywords = map[DialogContext][]string{
	ContextProfessional: {"work", "project", "meeting", "deadline", "client", "report", "office", "standup"},
	ContextFamily:       {"mom", "dad", "family", "dinner", "grandma", "grandpa", "sis", "bro"},
	ContextRomantic:     {"love", "miss you", "darling", "honey", "sweetheart", "babe", "date night"},
	ContextFriendly:     {"dude", "lol", "haha", "beer", "game", "hang out", "movie", "party"},
	ContextCreative:     {"idea", "design", "sketch", "draft", "song", "story", "inspiration"},
}

// titleKeywords match against thread names only.
var titleKeywords = map[DialogContext][]string{
	ContextProfessional: {"work", "team", "office", "dev", "standup"},
	ContextFamily:       {"family", "home", "parents"},
	ContextFriendly:     {"friends", "crew", "squad", "gang"},
}

// contextOrder fixes the scan order everywhere contexts are compared, so
// classification is deterministic and rebuilding an unchanged export
// yields an identical corpus.
var contextOrder = []DialogContext{ContextProfessional, ContextFamily, ContextRomantic, ContextFriendly, ContextCreative}

// ClassifyThread picks a dialog context for a whole thread from its name
// and the dominant classification of its messages.
func ClassifyThread(name string, msgs []mergedMessage) DialogContext {
	lower := strings.ToLower(name)
	for _, ctx := range contextOrder {
		for _, w := range titleKeywords[ctx] {
			if strings.Contains(lower, w) {
				return ctx
			}
		}
	}

	counts := map[DialogContext]int{}
	for _, m := range msgs {
		if ctx := ClassifyText(m.text); ctx != ContextGeneral {
			counts[ctx]++
		}
	}

	best, bestN := ContextGeneral, 0
	for _, ctx := range contextOrder {
		if counts[ctx] > bestN {
			best, bestN = ctx, counts[ctx]
		}
	}

	// Require a majority-ish signal before tagging the whole thread.
	if bestN*3 < len(msgs) {
		return ContextGeneral
	}
	return best
}

// ClassifyText scores one utterance against the context keyword sets.
func ClassifyText(text string) DialogContext {
	lower := strings.ToLower(text)

	best, bestScore := ContextGeneral, 0
	for _, ctx := range contextOrder {
		score := 0
		for _, w := range contextKeywords[ctx] {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = ctx, score
		}
	}
	return best
}

// ClassifyMessageType buckets an utterance by shape, mirroring the profile
// features downstream.
func ClassifyMessageType(text string) MessageType {
	trimmed := strings.TrimSpace(text)
	words := strings.Fields(trimmed)

	switch {
	case strings.HasSuffix(trimmed, "?"):
		return TypeQuestion
	case strings.HasSuffix(trimmed, "!"):
		return TypeExclamation
	case containsEmoji(trimmed):
		return TypeEmoji
	case len(words) <= 3:
		return TypeShort
	case len(words) > 20:
		return TypeLong
	default:
		return TypeNormal
	}
}

// containsEmoji reports whether text contains at least one emoji rune.
func containsEmoji(text string) bool {
	for _, r := range text {
		if isEmoji(r) {
			return true
		}
	}
	return false
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0x2764: // heavy heart
		return true
	default:
		return false
	}
}
