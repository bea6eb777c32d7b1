// Package mongoindex implements the presale index on MongoDB.
package mongoindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// Collection names.
const (
	PresaleCollection = "presales"
	TokenCollection   = "tokens"
)

type tokenDoc struct {
	Address     string     `bson:"address"`
	Name        string     `bson:"name"`
	Symbol      string     `bson:"symbol"`
	Decimals    int32      `bson:"decimals"`
	TotalSupply string     `bson:"totalSupply"`
	Icon        string     `bson:"icon,omitempty"`
	Creator     string     `bson:"creator"`
	UsedAt      *time.Time `bson:"usedAt,omitempty"`
}

type socialDoc struct {
	Website  string `bson:"website,omitempty"`
	Twitter  string `bson:"twitter,omitempty"`
	Telegram string `bson:"telegram,omitempty"`
	Discord  string `bson:"discord,omitempty"`
	Medium   string `bson:"medium,omitempty"`
}

type presaleDoc struct {
	PresaleAddress     string     `bson:"presaleAddress"`
	ZTokenAddress      string     `bson:"zTokenAddress"`
	Token              tokenDoc   `bson:"token"`
	Creator            string     `bson:"creator"`
	Name               string     `bson:"name"`
	Description        string     `bson:"description"`
	Thumbnail          string     `bson:"thumbnail,omitempty"`
	StartTime          time.Time  `bson:"startTime"`
	EndTime            time.Time  `bson:"endTime"`
	SoftCap            string     `bson:"softCap"`
	HardCap            string     `bson:"hardCap"`
	PresaleRate        string     `bson:"presaleRate"`
	TokensForSale      string     `bson:"tokensForSale"`
	TokensForLiquidity string     `bson:"tokensForLiquidity"`
	LiquidityPercent   int32      `bson:"liquidityPercent"`
	Status             int32      `bson:"status"`
	RaisedAmount       string     `bson:"raisedAmount"`
	TxHash             string     `bson:"txHash"`
	Social             socialDoc  `bson:"social"`
	CreatedAt          time.Time  `bson:"createdAt"`
	UpdatedAt          time.Time  `bson:"updatedAt"`
	ClosedAt           *time.Time `bson:"closedAt"`
	Deleted            bool       `bson:"deleted"`
	DeletedAt          *time.Time `bson:"deletedAt,omitempty"`
}

// Index is a MongoDB-backed index.Index.
type Index struct {
	presales *mongo.Collection
	tokens   *mongo.Collection
}

var _ index.Index = (*Index)(nil)

// Connect dials uri and returns an index over database.
//
// Parameters:
//   - ctx (context.Context): dial context
//   - uri (string): MongoDB connection string
//   - database (string): database name
//
// Returns:
//   - *Index: the index
//   - func(context.Context) error: disconnects the client
//   - error: nil on success, connection error otherwise
func Connect(ctx context.Context, uri, database string) (*Index, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return New(client.Database(database)), client.Disconnect, nil
}

// New wraps an open database.
func New(db *mongo.Database) *Index {
	return &Index{
		presales: db.Collection(PresaleCollection),
		tokens:   db.Collection(TokenCollection),
	}
}

// EnsureIndexes creates the uniqueness and query indexes.
func (x *Index) EnsureIndexes(ctx context.Context) error {
	if _, err := x.presales.Indexes().CreateMany(ctx, PresaleIndexes()); err != nil {
		return fmt.Errorf("creating presale indexes: %w", err)
	}
	if _, err := x.tokens.Indexes().CreateMany(ctx, TokenIndexes()); err != nil {
		return fmt.Errorf("creating token indexes: %w", err)
	}
	return nil
}

// PresaleIndexes returns the presale collection indexes. Uniqueness only
// covers live documents.
func PresaleIndexes() []mongo.IndexModel {
	live := bson.M{"deleted": false}
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "presaleAddress", Value: 1}},
			Options: options.Index().SetName("presale_address_live").SetUnique(true).SetPartialFilterExpression(live),
		},
		{
			Keys:    bson.D{{Key: "token.address", Value: 1}},
			Options: options.Index().SetName("token_address_live").SetUnique(true).SetPartialFilterExpression(live),
		},
		{Keys: bson.D{{Key: "creator", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
}

// TokenIndexes returns the token collection indexes.
func TokenIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "address", Value: 1}}, Options: options.Index().SetName("address_unique").SetUnique(true)},
		{Keys: bson.D{{Key: "creator", Value: 1}}},
	}
}

// InsertPresale stores p.
func (x *Index) InsertPresale(ctx context.Context, p *presale.Presale) error {
	rec := *p
	rec.Canonicalize()
	if _, err := x.presales.InsertOne(ctx, toPresaleDoc(&rec)); err != nil {
		return mapError(err)
	}
	return nil
}

// FindPresale returns the live presale at address.
func (x *Index) FindPresale(ctx context.Context, address string) (*presale.Presale, error) {
	return x.findPresale(ctx, bson.M{"presaleAddress": presale.NormalizeAddress(address), "deleted": false})
}

// FindPresaleByToken returns the live presale selling token.
func (x *Index) FindPresaleByToken(ctx context.Context, token string) (*presale.Presale, error) {
	return x.findPresale(ctx, bson.M{"token.address": presale.NormalizeAddress(token), "deleted": false})
}

func (x *Index) findPresale(ctx context.Context, filter bson.M) (*presale.Presale, error) {
	var doc presaleDoc
	if err := x.presales.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.domain(), nil
}

// UpdatePresale applies patch atomically and returns the updated presale.
func (x *Index) UpdatePresale(ctx context.Context, address string, patch index.Patch, now time.Time) (*presale.Presale, error) {
	filter := bson.M{"presaleAddress": presale.NormalizeAddress(address), "deleted": false}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc presaleDoc
	if err := x.presales.FindOneAndUpdate(ctx, filter, UpdateDocument(patch, now), opts).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	return doc.domain(), nil
}

// UpdateDocument builds the $set document for patch.
func UpdateDocument(p index.Patch, now time.Time) bson.M {
	set := bson.M{"updatedAt": now.UTC()}
	if p.Status != nil {
		set["status"] = int32(*p.Status)
	}
	if p.ClearClosedAt {
		set["closedAt"] = nil
	} else if p.ClosedAt != nil {
		set["closedAt"] = p.ClosedAt.UTC()
	}
	if p.EndTime != nil {
		set["endTime"] = p.EndTime.UTC()
	}
	if p.RaisedAmount != nil {
		set["raisedAmount"] = *p.RaisedAmount
	}
	return bson.M{"$set": set}
}

// ListPresales returns live presales matching the stored-field filter.
func (x *Index) ListPresales(ctx context.Context, filter *presale.Filter) ([]presale.Presale, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "presaleAddress", Value: 1}})
	cur, err := x.presales.Find(ctx, FilterDocument(filter), opts)
	if err != nil {
		return nil, mapError(err)
	}
	var docs []presaleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}

	out := make([]presale.Presale, 0, len(docs))
	for i := range docs {
		out = append(out, *docs[i].domain())
	}
	return out, nil
}

// FilterDocument translates the stored-field part of f into a query.
func FilterDocument(f *presale.Filter) bson.M {
	q := bson.M{"deleted": false}
	if f == nil {
		return q
	}
	if f.Creator != "" {
		q["creator"] = f.Creator
	}
	if f.Token != "" {
		q["token.address"] = f.Token
	}
	if f.CreatedFrom != nil || f.CreatedTo != nil {
		created := bson.M{}
		if f.CreatedFrom != nil {
			created["$gte"] = f.CreatedFrom.UTC()
		}
		if f.CreatedTo != nil {
			created["$lte"] = f.CreatedTo.UTC()
		}
		q["createdAt"] = created
	}
	if len(f.OnchainStatuses) > 0 {
		states := make(bson.A, 0, len(f.OnchainStatuses))
		for _, st := range f.OnchainStatuses {
			states = append(states, int32(st))
		}
		q["status"] = bson.M{"$in": states}
	}
	return q
}

// SoftDeletePresale marks the live presale at address deleted.
func (x *Index) SoftDeletePresale(ctx context.Context, address string, at time.Time) error {
	res, err := x.presales.UpdateOne(ctx,
		bson.M{"presaleAddress": presale.NormalizeAddress(address), "deleted": false},
		bson.M{"$set": bson.M{"deleted": true, "deletedAt": at.UTC()}},
	)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return index.ErrNotFound
	}
	return nil
}

// InsertToken registers t.
func (x *Index) InsertToken(ctx context.Context, t *presale.Token) error {
	rec := *t
	rec.Canonicalize()
	if _, err := x.tokens.InsertOne(ctx, toTokenDoc(rec)); err != nil {
		return mapError(err)
	}
	return nil
}

// FindToken returns the registered token at address.
func (x *Index) FindToken(ctx context.Context, address string) (*presale.Token, error) {
	var doc tokenDoc
	if err := x.tokens.FindOne(ctx, bson.M{"address": presale.NormalizeAddress(address)}).Decode(&doc); err != nil {
		return nil, mapError(err)
	}
	t := doc.domain()
	return &t, nil
}

// ListTokens returns tokens matching q in registration order.
func (x *Index) ListTokens(ctx context.Context, q index.TokenQuery) ([]presale.Token, error) {
	filter := bson.M{}
	if q.Creator != "" {
		filter["creator"] = presale.NormalizeAddress(q.Creator)
	}
	if q.Available {
		filter["usedAt"] = bson.M{"$exists": false}
	}

	cur, err := x.tokens.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mapError(err)
	}
	var docs []tokenDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}
	out := make([]presale.Token, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.domain())
	}
	return out, nil
}

// MarkTokenUsed stamps usedAt on the token at address.
func (x *Index) MarkTokenUsed(ctx context.Context, address string, at time.Time) error {
	res, err := x.tokens.UpdateOne(ctx,
		bson.M{"address": presale.NormalizeAddress(address)},
		bson.M{"$set": bson.M{"usedAt": at.UTC()}},
	)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return index.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return index.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", index.ErrDuplicateKey, err)
	}
	return err
}

func toPresaleDoc(p *presale.Presale) presaleDoc {
	return presaleDoc{
		PresaleAddress:     p.PresaleAddress,
		ZTokenAddress:      p.ZTokenAddress,
		Token:              toTokenDoc(p.Token),
		Creator:            p.Creator,
		Name:               p.Name,
		Description:        p.Description,
		Thumbnail:          p.Thumbnail,
		StartTime:          p.StartTime.UTC(),
		EndTime:            p.EndTime.UTC(),
		SoftCap:            p.SoftCap,
		HardCap:            p.HardCap,
		PresaleRate:        p.PresaleRate,
		TokensForSale:      p.TokensForSale,
		TokensForLiquidity: p.TokensForLiquidity,
		LiquidityPercent:   int32(p.LiquidityPercent),
		Status:             int32(p.Status),
		RaisedAmount:       orZero(p.RaisedAmount),
		TxHash:             p.TxHash,
		Social:             socialDoc(p.Social),
		CreatedAt:          p.CreatedAt.UTC(),
		UpdatedAt:          p.UpdatedAt.UTC(),
		ClosedAt:           p.ClosedAt,
		Deleted:            p.DeletedAt != nil,
		DeletedAt:          p.DeletedAt,
	}
}

func (d *presaleDoc) domain() *presale.Presale {
	return &presale.Presale{
		PresaleAddress:     d.PresaleAddress,
		ZTokenAddress:      d.ZTokenAddress,
		Token:              d.Token.domain(),
		Creator:            d.Creator,
		Name:               d.Name,
		Description:        d.Description,
		Thumbnail:          d.Thumbnail,
		StartTime:          d.StartTime.UTC(),
		EndTime:            d.EndTime.UTC(),
		SoftCap:            d.SoftCap,
		HardCap:            d.HardCap,
		PresaleRate:        d.PresaleRate,
		TokensForSale:      d.TokensForSale,
		TokensForLiquidity: d.TokensForLiquidity,
		LiquidityPercent:   int(d.LiquidityPercent),
		Status:             presale.OnchainState(d.Status),
		RaisedAmount:       d.RaisedAmount,
		TxHash:             d.TxHash,
		Social:             presale.Social(d.Social),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
		ClosedAt:           d.ClosedAt,
		DeletedAt:          d.DeletedAt,
	}
}

func toTokenDoc(t presale.Token) tokenDoc {
	return tokenDoc{
		Address:     t.Address,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Decimals:    int32(t.Decimals),
		TotalSupply: t.TotalSupply,
		Icon:        t.Icon,
		Creator:     t.Creator,
		UsedAt:      t.UsedAt,
	}
}

func (d tokenDoc) domain() presale.Token {
	return presale.Token{
		Address:     d.Address,
		Name:        d.Name,
		Symbol:      d.Symbol,
		Decimals:    uint8(d.Decimals),
		TotalSupply: d.TotalSupply,
		Icon:        d.Icon,
		Creator:     d.Creator,
		UsedAt:      d.UsedAt,
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
