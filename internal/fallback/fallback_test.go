package fallback

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ai-companion/internal/persona"
	"ai-companion/internal/resilience"
)

var allCategories = []resilience.Category{
	resilience.Timeout{Deadline: 10 * time.Second},
	resilience.RateLimited{RetryAfter: 2 * time.Second},
	resilience.ClientError{StatusCode: 400},
	resilience.ServerError{StatusCode: 503},
	resilience.NetworkError{},
	resilience.MalformedResponse{},
	resilience.Unknown{},
	nil,
}

var allRelationships = []persona.Relationship{
	persona.RelationshipNone,
	persona.RelationshipFamily,
	persona.RelationshipFriend,
	persona.RelationshipRomantic,
	persona.RelationshipAmbiguous,
	persona.Relationship("rival"),
}

func TestGenerate_NeverEmpty(t *testing.T) {
	g := New()
	for _, cat := range allCategories {
		for _, rel := range allRelationships {
			for i := 0; i < 20; i++ {
				text := g.Generate(cat, persona.Persona{Relationship: rel})
				assert.NotEmpty(t, strings.TrimSpace(text), "category %v relationship %q", cat, rel)
			}
		}
	}
	assert.NotEmpty(t, g.Generate(resilience.Unknown{}, persona.Persona{}))
}

func TestGenerate_DrawsFromResolvedPool(t *testing.T) {
	g := New()
	friend := persona.Persona{Name: "Mia", Relationship: persona.RelationshipFriend}
	pool := Pool(persona.RelationshipFriend, FailureTimeout)

	for i := 0; i < 50; i++ {
		assert.Contains(t, pool, g.Generate(resilience.Timeout{}, friend))
	}
}

func TestPool_Resolution(t *testing.T) {
	assert.Equal(t, relationshipPools[poolKey{persona.RelationshipRomantic, FailureRateLimited}],
		Pool(persona.RelationshipRomantic, FailureRateLimited))
	assert.Equal(t, failurePools[FailureTimeout], Pool(persona.RelationshipAmbiguous, FailureTimeout))
	assert.Equal(t, failurePools[FailureRateLimited], Pool(persona.RelationshipNone, FailureRateLimited))
	assert.Equal(t, genericPool, Pool(persona.RelationshipNone, FailureGeneric))
	assert.Equal(t, genericPool, Pool(persona.Relationship("rival"), FailureGeneric))
}

func TestPool_ReturnsCopy(t *testing.T) {
	p := Pool(persona.RelationshipNone, FailureGeneric)
	p[0] = "mutated"
	assert.NotEqual(t, "mutated", genericPool[0])
}

func TestGenerate_UsesInjectedRandom(t *testing.T) {
	var asked []int
	g := New(WithIntn(func(n int) int {
		asked = append(asked, n)
		return n - 1
	}))

	got := g.Generate(resilience.ServerError{StatusCode: 502}, persona.Persona{Relationship: persona.RelationshipFamily})

	pool := Pool(persona.RelationshipFamily, FailureGeneric)
	assert.Equal(t, pool[len(pool)-1], got)
	assert.Equal(t, []int{len(pool)}, asked)
}

func TestGenerate_OutOfRangeRandomIsClamped(t *testing.T) {
	g := New(WithIntn(func(int) int { return 99 }))
	assert.Equal(t, genericPool[0], g.Generate(nil, persona.Persona{}))
}

func TestFailureOf(t *testing.T) {
	assert.Equal(t, FailureTimeout, FailureOf(resilience.Timeout{}))
	assert.Equal(t, FailureRateLimited, FailureOf(resilience.RateLimited{}))
	for _, cat := range []resilience.Category{
		resilience.ClientError{StatusCode: 404},
		resilience.ServerError{StatusCode: 500},
		resilience.NetworkError{},
		resilience.MalformedResponse{},
		resilience.Unknown{},
		nil,
	} {
		assert.Equal(t, FailureGeneric, FailureOf(cat))
	}
}
