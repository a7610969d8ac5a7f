// Package tarot holds the small vocabulary the reading features share:
// interests, opaque card identifiers, the deck and spread shapes.
package tarot

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"
)

// Interest is the topic a reading's insight is written for.
type Interest string

const (
	Love       Interest = "love"
	Money      Interest = "money"
	Career     Interest = "career"
	Finance    Interest = "finance"
	Relations  Interest = "relations"
	Situations Interest = "situations"
	Spiritual  Interest = "spiritual"
)

var interests = []Interest{Love, Money, Career, Finance, Relations, Situations, Spiritual}

// Interests returns every interest in display order.
func Interests() []Interest {
	out := make([]Interest, len(interests))
	copy(out, interests)
	return out
}

// Valid reports whether i is one of the known interests.
func (i Interest) Valid() bool {
	for _, known := range interests {
		if i == known {
			return true
		}
	}
	return false
}

// ParseInterest accepts an interest name in any case.
func ParseInterest(s string) (Interest, error) {
	i := Interest(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("unknown interest %q", s)
	}
	return i, nil
}

// Card identifies a tarot card. The core never interprets it beyond
// passing it to the AI client and the display layer.
type Card string

// Title turns "queen-of-cups" into "Queen Of Cups".
func (c Card) Title() string {
	words := strings.Split(string(c), "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var majorArcana = []string{
	"the-fool", "the-magician", "the-high-priestess", "the-empress", "the-emperor",
	"the-hierophant", "the-lovers", "the-chariot", "strength", "the-hermit",
	"wheel-of-fortune", "justice", "the-hanged-man", "death", "temperance",
	"the-devil", "the-tower", "the-star", "the-moon", "the-sun", "judgement", "the-world",
}

var (
	suits = []string{"wands", "cups", "swords", "pentacles"}
	ranks = []string{
		"ace", "two", "three", "four", "five", "six", "seven",
		"eight", "nine", "ten", "page", "knight", "queen", "king",
	}
)

var deck = buildDeck()

func buildDeck() []Card {
	d := make([]Card, 0, len(majorArcana)+len(suits)*len(ranks))
	for _, name := range majorArcana {
		d = append(d, Card(name))
	}
	for _, suit := range suits {
		for _, rank := range ranks {
			d = append(d, Card(rank+"-of-"+suit))
		}
	}
	return d
}

// Deck returns the 78 card ids in canonical order.
func Deck() []Card {
	out := make([]Card, len(deck))
	copy(out, deck)
	return out
}

// Draw picks n distinct cards. n is clamped to the deck size.
func Draw(rng *rand.Rand, n int) []Card {
	if n <= 0 {
		return nil
	}
	if n > len(deck) {
		n = len(deck)
	}
	shuffled := Deck()
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n:n]
}

// DailyCard returns the card of the day for date's calendar day. Every
// caller sees the same card on the same day.
func DailyCard(date time.Time) Card {
	h := fnv.New32a()
	h.Write([]byte(date.Format("2006-01-02")))
	return deck[h.Sum32()%uint32(len(deck))]
}

// SpreadKind is the layout of a reading.
type SpreadKind string

const (
	SingleCard  SpreadKind = "single"
	ThreeCard   SpreadKind = "three"
	CelticCross SpreadKind = "cross"
)

// CardCount is the number of cards the layout draws.
func (k SpreadKind) CardCount() int {
	switch k {
	case SingleCard:
		return 1
	case ThreeCard:
		return 3
	case CelticCross:
		return 10
	}
	return 0
}

// ParseSpreadKind accepts "single", "three" or "cross".
func ParseSpreadKind(s string) (SpreadKind, error) {
	k := SpreadKind(strings.ToLower(strings.TrimSpace(s)))
	if k.CardCount() == 0 {
		return "", fmt.Errorf("unknown spread %q", s)
	}
	return k, nil
}
