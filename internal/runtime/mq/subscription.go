package mq

import (
	"fmt"
	"strings"
)

// WildcardTag matches every tag.
const WildcardTag = "*"

const tagSeparator = "||"

// Subscription binds a topic to a tag expression.
type Subscription struct {
	Topic      string
	Expression string
}

// Matches reports whether a message with tag passes the tag expression.
// "*" or an empty expression matches everything; otherwise the expression is a
// list of tags separated by "||".
func (s Subscription) Matches(tag string) bool {
	expr := strings.TrimSpace(s.Expression)
	if expr == "" || expr == WildcardTag {
		return true
	}
	for _, candidate := range strings.Split(expr, tagSeparator) {
		candidate = strings.TrimSpace(candidate)
		if candidate == WildcardTag || (candidate != "" && candidate == tag) {
			return true
		}
	}
	return false
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s[%s]", s.Topic, s.Expression)
}
