package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestRules_SoftDeleteIdempotent(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("second call reports no further modification", func(mt *mtest.T) {
		rules := NewRules(&Store{guilds: mt.Coll})

		// First call flips the active flag; the second matches no
		// still-active element and modifies nothing.
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
		)

		assert.True(mt, rules.SoftDelete(context.Background(), "rule-1"))
		assert.False(mt, rules.SoftDelete(context.Background(), "rule-1"))
	})
}

func TestRules_ByID(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("returns the matching rule and its guild", func(mt *mtest.T) {
		rules := NewRules(&Store{guilds: mt.Coll})

		settings := DefaultGuildSettings("guild-1", "Test")
		wanted := NewRule("announcements", "chan-1", "chan-2")
		settings.Rules = []Rule{NewRule("other", "chan-3", "chan-4"), wanted}

		raw, err := bson.Marshal(settings)
		require.NoError(mt, err)
		var doc bson.D
		require.NoError(mt, bson.Unmarshal(raw, &doc))

		mt.AddMockResponses(mtest.CreateCursorResponse(0, "relay.guild_settings", mtest.FirstBatch, doc))

		rule, guildID := rules.ByID(context.Background(), wanted.RuleID)
		require.NotNil(mt, rule)
		assert.Equal(mt, "guild-1", guildID)
		assert.Equal(mt, "announcements", rule.RuleName)
	})

	mt.Run("unknown rule returns nil", func(mt *mtest.T) {
		rules := NewRules(&Store{guilds: mt.Coll})

		mt.AddMockResponses(mtest.CreateCursorResponse(0, "relay.guild_settings", mtest.FirstBatch))

		rule, guildID := rules.ByID(context.Background(), "missing")
		assert.Nil(mt, rule)
		assert.Empty(mt, guildID)
	})
}
