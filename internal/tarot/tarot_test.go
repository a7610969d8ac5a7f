package tarot

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestDeckHas78DistinctCards(t *testing.T) {
	d := Deck()
	if len(d) != 78 {
		t.Fatalf("deck has %d cards, want 78", len(d))
	}
	seen := make(map[Card]bool)
	for _, c := range d {
		if seen[c] {
			t.Errorf("duplicate card %q", c)
		}
		seen[c] = true
	}

	d[0] = "tampered"
	if Deck()[0] == "tampered" {
		t.Error("Deck must return a copy")
	}
}

func TestDrawWithoutReplacement(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{1, 3, 10, 78} {
		cards := Draw(rng, n)
		if len(cards) != n {
			t.Fatalf("Draw(%d) returned %d cards", n, len(cards))
		}
		seen := make(map[Card]bool)
		for _, c := range cards {
			if seen[c] {
				t.Fatalf("Draw(%d) repeated %q", n, c)
			}
			seen[c] = true
		}
	}

	if got := Draw(rng, 0); got != nil {
		t.Errorf("Draw(0) = %v, want nil", got)
	}
	if got := Draw(rng, 200); len(got) != 78 {
		t.Errorf("Draw(200) returned %d cards, want 78", len(got))
	}
}

func TestDrawIsSeedDeterministic(t *testing.T) {
	a := Draw(rand.New(rand.NewPCG(7, 7)), 5)
	b := Draw(rand.New(rand.NewPCG(7, 7)), 5)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed drew %v and %v", a, b)
		}
	}
}

func TestDailyCardStablePerDay(t *testing.T) {
	morning := time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 14, 22, 30, 0, 0, time.UTC)
	if DailyCard(morning) != DailyCard(evening) {
		t.Error("daily card changed within one day")
	}

	distinct := make(map[Card]bool)
	for d := 0; d < 30; d++ {
		distinct[DailyCard(morning.AddDate(0, 0, d))] = true
	}
	if len(distinct) < 2 {
		t.Error("daily card never changes across a month")
	}
}

func TestParseInterest(t *testing.T) {
	tests := []struct {
		in      string
		want    Interest
		wantErr bool
	}{
		{"love", Love, false},
		{" Money ", Money, false},
		{"SPIRITUAL", Spiritual, false},
		{"astrology", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseInterest(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseInterest(%q) = %q, %v", tt.in, got, err)
		}
	}
	if len(Interests()) != 7 {
		t.Errorf("Interests() has %d entries, want 7", len(Interests()))
	}
}

func TestSpreadKinds(t *testing.T) {
	tests := []struct {
		kind SpreadKind
		want int
	}{
		{SingleCard, 1},
		{ThreeCard, 3},
		{CelticCross, 10},
		{"bogus", 0},
	}
	for _, tt := range tests {
		if got := tt.kind.CardCount(); got != tt.want {
			t.Errorf("%q.CardCount() = %d, want %d", tt.kind, got, tt.want)
		}
	}
	if _, err := ParseSpreadKind("pyramid"); err == nil {
		t.Error("ParseSpreadKind accepted an unknown layout")
	}
}

func TestCardTitle(t *testing.T) {
	tests := []struct {
		card Card
		want string
	}{
		{"queen-of-cups", "Queen Of Cups"},
		{"the-fool", "The Fool"},
		{"death", "Death"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := tt.card.Title(); got != tt.want {
			t.Errorf("%q.Title() = %q, want %q", tt.card, got, tt.want)
		}
	}
}
