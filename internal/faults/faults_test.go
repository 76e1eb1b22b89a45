package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"categorised", New(Catalog, errors.New("firestore down")), Catalog},
		{"wrapped categorised", fmt.Errorf("phase 2: %w", New(Corrupted, errors.New("moov atom not found"))), Corrupted},
		{"plain error defaults transient", errors.New("connection reset"), Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := Newf(Incoherent, "session %s has angle UNK", "abc")
	if !Is(err, Incoherent) {
		t.Error("Is(Incoherent) = false")
	}
	if Is(err, Fatal) {
		t.Error("Is(Fatal) = true")
	}
	if Is(errors.New("plain"), Incoherent) {
		t.Error("plain error should not match a category")
	}
}

func TestNewNilPassthrough(t *testing.T) {
	if New(Transient, nil) != nil {
		t.Error("New(cat, nil) should be nil")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := New(CameraControl, inner)
	if !errors.Is(err, inner) {
		t.Error("errors.Is should see through the category wrapper")
	}
}
