package service

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/kittymarket/internal/domain"
)

func TestBreed_ConfirmedByBirth(t *testing.T) {
	ctx := context.Background()
	h := newHarness()

	if _, err := h.breed.Breed(ctx, 3, 7); err != nil {
		t.Fatalf("Breed: %v", err)
	}
	st, _ := h.market.Status(BreedKey(3, 7))
	if st.Status != domain.RequestSucceeded {
		t.Fatalf("status = %s, want succeeded", st.Status)
	}

	// A birth from other parents leaves the request pending.
	if err := h.breed.HandleBirth(ctx, domain.BirthEvent{KittyID: 40, MumID: 1, DadID: 2}); err != nil {
		t.Fatal(err)
	}
	if st, _ := h.market.Status(BreedKey(3, 7)); st.Status != domain.RequestSucceeded {
		t.Fatalf("status = %s after unrelated birth", st.Status)
	}

	if err := h.breed.HandleBirth(ctx, domain.BirthEvent{KittyID: 41, MumID: 3, DadID: 7}); err != nil {
		t.Fatal(err)
	}
	if st, _ := h.market.Status(BreedKey(3, 7)); st.Status != domain.RequestConfirmed {
		t.Fatalf("status = %s, want confirmed", st.Status)
	}
}

func TestBreed_SameParent(t *testing.T) {
	h := newHarness()

	_, err := h.breed.Breed(context.Background(), 5, 5)
	if !errors.Is(err, domain.ErrSameParent) {
		t.Fatalf("err = %v, want ErrSameParent", err)
	}
	if sends := h.ledger.sends(); len(sends) != 0 {
		t.Fatalf("sent %v", sends)
	}
	st, _ := h.market.Status(BreedKey(5, 5))
	if st.Status != domain.RequestFailed {
		t.Fatalf("status = %s, want failed", st.Status)
	}
}
