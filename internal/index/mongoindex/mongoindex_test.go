package mongoindex

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/pkg/presale"
)

var baseTime = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

func TestFilterDocument(t *testing.T) {
	from := baseTime
	to := baseTime.Add(24 * time.Hour)

	tests := []struct {
		name   string
		filter *presale.Filter
		want   bson.M
	}{
		{
			name:   "nil filter keeps live only",
			filter: nil,
			want:   bson.M{"deleted": false},
		},
		{
			name:   "creator and token",
			filter: &presale.Filter{Creator: "0xc", Token: "0xt"},
			want:   bson.M{"deleted": false, "creator": "0xc", "token.address": "0xt"},
		},
		{
			name:   "created range",
			filter: &presale.Filter{CreatedFrom: &from, CreatedTo: &to},
			want:   bson.M{"deleted": false, "createdAt": bson.M{"$gte": from, "$lte": to}},
		},
		{
			name:   "lower bound only",
			filter: &presale.Filter{CreatedFrom: &from},
			want:   bson.M{"deleted": false, "createdAt": bson.M{"$gte": from}},
		},
		{
			name:   "onchain states",
			filter: &presale.Filter{OnchainStatuses: []presale.OnchainState{presale.StateActive, presale.StateFinalized}},
			want:   bson.M{"deleted": false, "status": bson.M{"$in": bson.A{int32(1), int32(4)}}},
		},
		{
			name:   "management status is not a stored field",
			filter: &presale.Filter{Statuses: []presale.ManageStatus{presale.ManageDraft}},
			want:   bson.M{"deleted": false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, FilterDocument(tc.filter))
		})
	}
}

func TestUpdateDocument(t *testing.T) {
	canceled := presale.StateCanceled
	end := baseTime.Add(time.Hour)

	doc := UpdateDocument(index.Patch{Status: &canceled, EndTime: &end, ClearClosedAt: true}, baseTime)
	set, ok := doc["$set"].(bson.M)
	require.True(t, ok)
	require.Equal(t, int32(3), set["status"])
	require.Equal(t, end, set["endTime"])
	require.Contains(t, set, "closedAt")
	require.Nil(t, set["closedAt"])
	require.Equal(t, baseTime, set["updatedAt"])

	doc = UpdateDocument(index.Patch{}, baseTime)
	require.Len(t, doc["$set"], 1)
}

func TestPresaleIndexesArePartial(t *testing.T) {
	models := PresaleIndexes()
	require.Len(t, models, 4)
	for _, m := range models[:2] {
		require.NotNil(t, m.Options)
		require.NotNil(t, m.Options.Unique)
		require.True(t, *m.Options.Unique)
		require.Equal(t, bson.M{"deleted": false}, m.Options.PartialFilterExpression)
	}
	require.Len(t, TokenIndexes(), 2)
}

func TestDocumentRoundTrip(t *testing.T) {
	closed := baseTime.Add(time.Hour)
	p := &presale.Presale{
		PresaleAddress: "0xp",
		Token:          presale.Token{Address: "0xt", Decimals: 6},
		Creator:        "0xc",
		Status:         presale.StateWaitingForFinalize,
		Social:         presale.Social{Discord: "launch"},
		CreatedAt:      baseTime,
		ClosedAt:       &closed,
	}

	doc := toPresaleDoc(p)
	require.False(t, doc.Deleted)
	require.Equal(t, "0", doc.RaisedAmount)
	require.Equal(t, int32(2), doc.Status)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded presaleDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	back := decoded.domain()
	require.Equal(t, presale.StateWaitingForFinalize, back.Status)
	require.Equal(t, uint8(6), back.Token.Decimals)
	require.Equal(t, "launch", back.Social.Discord)
	require.True(t, closed.Equal(*back.ClosedAt))
}

func TestMapError(t *testing.T) {
	require.NoError(t, mapError(nil))
	require.ErrorIs(t, mapError(mongo.ErrNoDocuments), index.ErrNotFound)

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	require.ErrorIs(t, mapError(dup), index.ErrDuplicateKey)

	other := errors.New("server selection timeout")
	require.Equal(t, other, mapError(other))
}
