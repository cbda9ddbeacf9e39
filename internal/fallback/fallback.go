// Package fallback produces canned, persona-flavoured replies for turns where
// the model could not be reached. Generate never fails.
package fallback

import (
	"math/rand/v2"

	"ai-companion/internal/persona"
	"ai-companion/internal/resilience"
)

// Failure groups error categories for reply selection.
type Failure string

const (
	FailureTimeout     Failure = "timeout"
	FailureRateLimited Failure = "rate_limited"
	FailureGeneric     Failure = "generic"
)

// FailureOf maps a classified error onto a reply group. A nil category is
// generic.
func FailureOf(cat resilience.Category) Failure {
	if cat == nil {
		return FailureGeneric
	}
	switch cat.Kind() {
	case resilience.KindTimeout:
		return FailureTimeout
	case resilience.KindRateLimited:
		return FailureRateLimited
	case resilience.KindClientError, resilience.KindServerError, resilience.KindNetworkError,
		resilience.KindMalformedResponse, resilience.KindUnknown:
		return FailureGeneric
	}
	return FailureGeneric
}

type poolKey struct {
	rel     persona.Relationship
	failure Failure
}

var relationshipPools = map[poolKey][]string{
	{persona.RelationshipFriend, FailureTimeout}: {
		"Ugh, my brain just froze mid-thought. Give me a sec and say that again?",
		"Sorry, I totally zoned out there. What were you saying?",
		"Hold on, my head's a bit foggy right now. Try me again in a moment?",
	},
	{persona.RelationshipFriend, FailureRateLimited}: {
		"Whoa, you're talking faster than I can keep up! Give me a minute to catch my breath.",
		"Okay okay, slow down a little, I'm still processing everything. Back in a bit!",
	},
	{persona.RelationshipFriend, FailureGeneric}: {
		"Something's off on my end, sorry! Can you try again?",
		"Hmm, I lost my train of thought. Mind repeating that?",
	},

	{persona.RelationshipRomantic, FailureTimeout}: {
		"Sorry love, I drifted off thinking about you for a second. Say that again?",
		"Give me just a moment, I want to answer you properly.",
	},
	{persona.RelationshipRomantic, FailureRateLimited}: {
		"You're sweeping me off my feet with all these messages! Let me catch up for a minute.",
		"I love hearing from you, but give me a little moment to breathe, okay?",
	},
	{persona.RelationshipRomantic, FailureGeneric}: {
		"I'm having a bit of a moment, sorry. Tell me again?",
		"Something distracted me, I'm all yours again. What did you say?",
	},

	{persona.RelationshipFamily, FailureTimeout}: {
		"Sorry, dear, I got a little lost in thought. What was that?",
		"Give me a moment, I'm still thinking about what you said.",
	},
	{persona.RelationshipFamily, FailureRateLimited}: {
		"Slow down a little, sweetheart, I can only keep up with so much at once!",
		"So much to talk about! Let me catch up for a minute.",
	},
	{persona.RelationshipFamily, FailureGeneric}: {
		"Oh, I'm not quite myself right now. Could you say that again?",
		"Forgive me, I missed that. Tell me once more?",
	},
}

var failurePools = map[Failure][]string{
	FailureTimeout: {
		"Sorry, I'm taking longer than usual to gather my thoughts. Could you try again?",
		"That took me too long to think through. Ask me again in a moment?",
	},
	FailureRateLimited: {
		"I need a short breather before I can keep going. Try again in a minute?",
		"Lots of messages at once! Give me a moment and I'll be right with you.",
	},
}

var genericPool = []string{
	"Sorry, I couldn't quite get my thoughts together. Could you say that again?",
	"Hmm, something went wrong on my side. Let's try that once more.",
	"I'm having trouble answering right now, but I'm still here. Try again in a bit?",
}

// Generator picks fallback replies uniformly at random from the most specific
// pool available: relationship and failure, then failure only, then generic.
type Generator struct {
	intn func(n int) int
}

type Option func(*Generator)

// WithIntn replaces the random source, mainly for tests.
func WithIntn(f func(n int) int) Option {
	return func(g *Generator) { g.intn = f }
}

func New(opts ...Option) *Generator {
	g := &Generator{intn: rand.IntN}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Generate(cat resilience.Category, p persona.Persona) string {
	pool := Pool(p.Relationship, FailureOf(cat))
	i := g.intn(len(pool))
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}

// Pool returns a copy of the pool Generate draws from.
func Pool(rel persona.Relationship, f Failure) []string {
	pool, ok := relationshipPools[poolKey{rel, f}]
	if !ok {
		pool, ok = failurePools[f]
	}
	if !ok {
		pool = genericPool
	}
	out := make([]string, len(pool))
	copy(out, pool)
	return out
}
