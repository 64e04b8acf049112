package bus

import "strings"

// matchTopic reports whether a published topic matches a subscription
// pattern. Patterns use dot-separated segments where "*" matches exactly
// one segment and "#" matches the remainder of the topic (must be the
// final segment in the pattern), following the spec's topic wildcard
// grammar (§4.1).
func matchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")

	i := 0
	for ; i < len(pSegs); i++ {
		seg := pSegs[i]
		if seg == "#" {
			return true // matches everything from here on, including nothing
		}
		if i >= len(tSegs) {
			return false
		}
		if seg == "*" {
			continue
		}
		if seg != tSegs[i] {
			return false
		}
	}
	return i == len(tSegs)
}
