package runtime

import (
	"context"
	"reflect"
	"testing"
)

func TestExpandSubscriptionsDefaultsToWildcardTag(t *testing.T) {
	keys := ExpandSubscriptions("h", Routing{Names: []string{"orders", "payments"}})
	want := []SubscriptionKey{
		{Identity: "h", Name: "orders", Tag: "*"},
		{Identity: "h", Name: "payments", Tag: "*"},
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func TestExpandSubscriptionsSingleNameWins(t *testing.T) {
	keys := ExpandSubscriptions("h", Routing{Name: "orders", Names: []string{"a", "b"}, Tags: []string{"created"}})
	if len(keys) != 1 || keys[0].Name != "orders" || keys[0].Tag != "created" {
		t.Fatalf("expected only orders@created, got %v", keys)
	}
}

func TestExpandSubscriptionsCrossProduct(t *testing.T) {
	keys := ExpandSubscriptions("h", Routing{Names: []string{"a", "b"}, Tags: []string{"x", "y"}})
	got := make([]string, 0, len(keys))
	for _, k := range keys {
		got = append(got, k.Name+"/"+k.Tag)
	}
	want := []string{"a/x", "a/y", "b/x", "b/y"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandSubscriptionsSkipsBlanksAndDuplicates(t *testing.T) {
	keys := ExpandSubscriptions("h", Routing{Names: []string{"a", " ", "a"}, Tags: []string{"x", "", "x"}})
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %v", keys)
	}

	if keys := ExpandSubscriptions("h", Routing{}); len(keys) != 0 {
		t.Fatalf("expected no keys without names, got %v", keys)
	}
}

func TestSubscriptionKeyString(t *testing.T) {
	key := SubscriptionKey{Identity: "*runtime.orderHandler", Name: "orders", Tag: "*"}
	if got := key.String(); got != "*runtime.orderHandler:orders@*" {
		t.Fatalf("String() = %q", got)
	}
}

type routedHandler struct{}

func (routedHandler) Name() string    { return "orders" }
func (routedHandler) Names() []string { return []string{"a"} }
func (routedHandler) Tags() []string  { return []string{"paid"} }
func (routedHandler) OnMessage(ctx context.Context, b []byte) error {
	return nil
}

func TestRegistrationRoutingFallsBackToProviders(t *testing.T) {
	reg := Registration[[]byte]{Handler: routedHandler{}}
	routing := reg.routing()
	if routing.Name != "orders" || !reflect.DeepEqual(routing.Names, []string{"a"}) || !reflect.DeepEqual(routing.Tags, []string{"paid"}) {
		t.Fatalf("unexpected routing %+v", routing)
	}
	if reg.identity() != "runtime.routedHandler" {
		t.Fatalf("identity = %q", reg.identity())
	}

	override := Registration[[]byte]{Identity: "custom", Name: "payments", Tags: []string{"x"}, Handler: routedHandler{}}
	routing = override.routing()
	if routing.Name != "payments" || routing.Tags[0] != "x" || override.identity() != "custom" {
		t.Fatalf("explicit fields must win, got %+v", routing)
	}
}

func TestRegistrationExplicitNamesSkipNameProvider(t *testing.T) {
	reg := Registration[[]byte]{Names: []string{"payments"}, Handler: routedHandler{}}
	routing := reg.routing()
	if routing.Name != "" || !reflect.DeepEqual(routing.Names, []string{"payments"}) {
		t.Fatalf("explicit names must not be mixed with providers, got %+v", routing)
	}

	keys := ExpandSubscriptions(reg.identity(), routing)
	if len(keys) != 1 || keys[0].Name != "payments" || keys[0].Tag != "paid" {
		t.Fatalf("expected payments@paid, got %v", keys)
	}
}
