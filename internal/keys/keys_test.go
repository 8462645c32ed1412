package keys

import (
	"reflect"
	"testing"
)

func TestLockAndFlight(t *testing.T) {
	if got := Lock("r"); got != "lock:r" {
		t.Fatalf("Lock=%q", got)
	}
	if got := Lock(Flight("app:1")); got != "lock:getorset:app:1" {
		t.Fatalf("Lock(Flight)=%q", got)
	}
}

func TestPages(t *testing.T) {
	got := Pages("feed:global:", []int{1, 2}, []int{10, 20})
	want := []string{
		"feed:global:page:1:size:10",
		"feed:global:page:1:size:20",
		"feed:global:page:2:size:10",
		"feed:global:page:2:size:20",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Pages=%v", got)
	}
}

func TestMatchers(t *testing.T) {
	if !HasAnyPrefix("comments:1:*", []string{"", "comments:"}) {
		t.Fatalf("prefix not matched")
	}
	if HasAnyPrefix("x", []string{""}) {
		t.Fatalf("empty prefix must not match")
	}
	if !ContainsAny("app:comments:1", []string{"comments"}) {
		t.Fatalf("marker not matched")
	}
	if ContainsAny("other:1", []string{"comments", ""}) {
		t.Fatalf("unexpected marker match")
	}
}
