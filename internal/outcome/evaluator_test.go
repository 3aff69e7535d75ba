package outcome

import (
	"reflect"
	"testing"
)

func postOK() Events {
	return Events{
		Responses: []ResponseEvent{
			{Method: "POST", URL: "https://shop.example.com/api/login", Status: 200, SameOrigin: true},
		},
	}
}

func TestEvaluate_NetworkPlusNavigation_SuccessHigh(t *testing.T) {
	before := PageState{URL: "https://shop.example.com/login", FilledFields: 2, FormPresent: true}
	after := PageState{URL: "https://shop.example.com/dashboard"}
	ev := postOK()
	ev.URLChanged = true

	res := Evaluate(before, after, ev)
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if res.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %s, want high", res.Confidence)
	}
	if !res.Evidence.NetworkPositive || !res.Evidence.NavigationPositive {
		t.Errorf("evidence = %+v, want network and navigation positive", res.Evidence)
	}
}

func TestEvaluate_NetworkPlusDOM_SuccessHigh(t *testing.T) {
	before := PageState{URL: "https://shop.example.com/login", FilledFields: 2, FormPresent: true}
	after := PageState{URL: "https://shop.example.com/login", FilledFields: 0, FormPresent: true}

	res := Evaluate(before, after, postOK())
	if res.Status != StatusSuccess || res.Confidence != ConfidenceHigh {
		t.Fatalf("got %s/%s, want success/high", res.Status, res.Confidence)
	}
}

func TestEvaluate_PositiveWithNegative_Friction(t *testing.T) {
	before := PageState{URL: "https://shop.example.com/login", FormPresent: true}
	after := PageState{URL: "https://shop.example.com/dashboard", AriaInvalid: 1}
	ev := postOK()
	ev.URLChanged = true

	res := Evaluate(before, after, ev)
	if res.Status != StatusFriction {
		t.Fatalf("status = %s, want friction", res.Status)
	}
}

func TestEvaluate_SinglePositive_SuccessMedium(t *testing.T) {
	// Navigation only: no network mutation, no DOM change, no negative.
	before := PageState{URL: "https://shop.example.com/login"}
	after := PageState{URL: "https://shop.example.com/welcome"}

	res := Evaluate(before, after, Events{})
	if res.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", res.Status)
	}
	if res.Confidence != ConfidenceMedium {
		t.Errorf("confidence = %s, want medium", res.Confidence)
	}
}

func TestEvaluate_NetworkOnly_SuccessMedium(t *testing.T) {
	before := PageState{URL: "https://shop.example.com/login", FormPresent: true}
	after := before

	res := Evaluate(before, after, postOK())
	if res.Status != StatusSuccess || res.Confidence != ConfidenceMedium {
		t.Fatalf("got %s/%s, want success/medium", res.Status, res.Confidence)
	}
}

func TestEvaluate_TwoPositivesWithoutNetwork_Failure(t *testing.T) {
	// Navigation plus DOM but no network mutation does not reach any success
	// branch: branch 1 needs network, branch 3 needs exactly one positive.
	before := PageState{URL: "https://shop.example.com/login", FilledFields: 2, FormPresent: true}
	after := PageState{URL: "https://shop.example.com/next", FilledFields: 0, FormPresent: true}

	res := Evaluate(before, after, Events{URLChanged: true})
	if res.Status != StatusFailure {
		t.Fatalf("status = %s, want failure", res.Status)
	}
	if res.Confidence != ConfidenceLow {
		t.Errorf("confidence = %s, want low", res.Confidence)
	}
}

func TestEvaluate_NegativeOnly_FailureMedium(t *testing.T) {
	before := PageState{URL: "https://shop.example.com/login", FormPresent: true}
	after := PageState{URL: "https://shop.example.com/login", FormPresent: true, AriaInvalid: 2}

	res := Evaluate(before, after, Events{})
	if res.Status != StatusFailure {
		t.Fatalf("status = %s, want failure", res.Status)
	}
	if res.Confidence != ConfidenceMedium {
		t.Errorf("confidence = %s, want medium", res.Confidence)
	}
}

func TestEvaluate_NoSignals_FailureLow(t *testing.T) {
	st := PageState{URL: "https://shop.example.com/login", FormPresent: true}

	res := Evaluate(st, st, Events{})
	if res.Status != StatusFailure || res.Confidence != ConfidenceLow {
		t.Fatalf("got %s/%s, want failure/low", res.Status, res.Confidence)
	}
}

func TestEvaluate_ConsoleErrorIsNegative(t *testing.T) {
	before := PageState{URL: "https://shop.example.com/checkout", FormPresent: true}
	after := PageState{URL: "https://shop.example.com/done"}
	ev := Events{URLChanged: true, ConsoleErrors: 1}

	res := Evaluate(before, after, ev)
	if res.Status != StatusFriction {
		t.Fatalf("status = %s, want friction (positive + console error)", res.Status)
	}
}

func TestEvaluate_CrossOriginPostIgnored(t *testing.T) {
	st := PageState{URL: "https://shop.example.com/login", FormPresent: true}
	ev := Events{Responses: []ResponseEvent{
		{Method: "POST", URL: "https://analytics.example.net/collect", Status: 204, SameOrigin: false},
	}}

	res := Evaluate(st, st, ev)
	if res.Evidence.NetworkPositive {
		t.Error("cross-origin POST must not count as network-positive")
	}
	if res.Status != StatusFailure {
		t.Errorf("status = %s, want failure", res.Status)
	}
}

func TestEvaluate_Pure(t *testing.T) {
	before := PageState{URL: "https://shop.example.com/login", FilledFields: 2, FormPresent: true}
	after := PageState{URL: "https://shop.example.com/dashboard"}
	ev := postOK()
	ev.URLChanged = true

	first := Evaluate(before, after, ev)
	second := Evaluate(before, after, ev)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("evaluate is not pure: %+v != %+v", first, second)
	}
}
