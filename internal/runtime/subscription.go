package runtime

import (
	"fmt"
	"strings"

	"github.com/drblury/tagflow/internal/runtime/mq"
)

// SubscriptionKey identifies one consumer: a handler listening on one tag of
// one consumer name.
type SubscriptionKey struct {
	Identity string
	Name     string
	Tag      string
}

func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s:%s@%s", k.Identity, k.Name, k.Tag)
}

// ExpandSubscriptions returns the cross product of the routing's names and
// tags, in order and without duplicates. Blank names and tags are skipped.
func ExpandSubscriptions(identity string, routing Routing) []SubscriptionKey {
	names := routing.Names
	if routing.Name != "" {
		names = []string{routing.Name}
	}
	tags := compact(routing.Tags)
	if len(tags) == 0 {
		tags = []string{mq.WildcardTag}
	}

	var keys []SubscriptionKey
	seen := make(map[SubscriptionKey]struct{})
	for _, name := range compact(names) {
		for _, tag := range tags {
			key := SubscriptionKey{Identity: identity, Name: name, Tag: tag}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
