package seed

import (
	"fmt"
	"time"

	"threadline/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

var replyOpeners = []string{
	"Agreed.", "Not sure about that.", "Good point!", "Source?", "This.",
	"I had the same experience.", "Respectfully, no.", "Came here to say this.",
}

// Factory produces fake users, comment text and report reasons.
type Factory struct {
	faker *gofakeit.Faker
}

// NewFactory returns a Factory. A zero seed uses the clock.
func NewFactory(seed int64) *Factory {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{faker: gofakeit.New(seed)}
}

// UserID picks an id in [1, users].
func (f *Factory) UserID(users int) uint {
	return uint(f.faker.Number(1, users))
}

// DistinctUsers returns each id in [1, users] with probability ratio.
func (f *Factory) DistinctUsers(users int, ratio float64) []uint {
	var out []uint
	for id := 1; id <= users; id++ {
		if f.Chance(ratio) {
			out = append(out, uint(id))
		}
	}
	return out
}

// CommentContent is a short paragraph for a top-level comment.
func (f *Factory) CommentContent() string {
	return f.faker.Paragraph(1, f.faker.Number(1, 3), f.faker.Number(6, 14), " ")
}

// ReplyContent is a one or two sentence reply.
func (f *Factory) ReplyContent() string {
	opener := f.faker.RandomString(replyOpeners)
	if f.Chance(0.5) {
		return opener
	}
	return fmt.Sprintf("%s %s", opener, f.faker.Sentence(f.faker.Number(4, 12)))
}

// Sentence returns a sentence of n words.
func (f *Factory) Sentence(n int) string {
	return f.faker.Sentence(n)
}

// ReportReason picks one of the enumerated reasons.
func (f *Factory) ReportReason() models.ReportReason {
	return models.ReportReasons[f.faker.Number(0, len(models.ReportReasons)-1)]
}

// Intn returns an int in [0, n).
func (f *Factory) Intn(n int) int {
	if n <= 1 {
		return 0
	}
	return f.faker.Number(0, n-1)
}

// Chance is true with probability p.
func (f *Factory) Chance(p float64) bool {
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}
	return f.faker.Float64Range(0, 1) < p
}
