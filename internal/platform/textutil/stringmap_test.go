package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" type ":       " offer.accepted ",
			"jobRequestId": " req_1 ",
			"offerId":      " ",
			" ":            "ignored",
			"":             "ignore",
		}

		expected := map[string]string{
			"type":         "offer.accepted",
			"jobRequestId": "req_1",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
		if NormalizeStringMap(map[string]string{"blank": "  "}) != nil {
			t.Fatalf("expected nil when all values are blank")
		}
	})
}
