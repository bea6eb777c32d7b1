package api

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// validateToken checks a registration before it reaches the index.
func validateToken(t *presale.Token) error {
	const op = "register token"
	if !common.IsHexAddress(t.Address) {
		return badRequest(op, "invalid token address %q", t.Address)
	}
	if !common.IsHexAddress(t.Creator) {
		return badRequest(op, "invalid creator address %q", t.Creator)
	}
	if strings.TrimSpace(t.Name) == "" || strings.TrimSpace(t.Symbol) == "" {
		return badRequest(op, "name and symbol are required")
	}
	if t.Decimals > 36 {
		return badRequest(op, "decimals %d out of range", t.Decimals)
	}
	if t.TotalSupply != "" {
		supply, ok := new(big.Int).SetString(t.TotalSupply, 10)
		if !ok || supply.Sign() < 0 {
			return badRequest(op, "totalSupply must be a non-negative integer")
		}
	}
	return nil
}

func (s *Server) registerToken(c *gin.Context) {
	var t presale.Token
	if err := c.ShouldBindJSON(&t); err != nil {
		s.fail(c, badRequest("register token", "invalid body: %v", err))
		return
	}
	if err := validateToken(&t); err != nil {
		s.fail(c, err)
		return
	}
	t.UsedAt = nil
	t.Canonicalize()

	if err := s.index.InsertToken(c.Request.Context(), &t); err != nil {
		s.fail(c, index.Classify("register token", err))
		return
	}
	s.logger.Info().Str("token", t.Address).Str("creator", t.Creator).Msg("token registered")
	c.JSON(http.StatusCreated, t)
}

func (s *Server) getToken(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		s.fail(c, badRequest("get token", "invalid token address %q", address))
		return
	}
	t, err := s.index.FindToken(c.Request.Context(), address)
	if err != nil {
		s.fail(c, index.Classify("find token", err))
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) listTokens(c *gin.Context) {
	available, _ := strconv.ParseBool(c.DefaultQuery("available", "false"))
	tokens, err := s.index.ListTokens(c.Request.Context(), index.TokenQuery{
		Creator:   c.Query("creator"),
		Available: available,
	})
	if err != nil {
		s.fail(c, index.Classify("list tokens", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "count": len(tokens)})
}

// statsBody summarizes the index.
type statsBody struct {
	Total       int                          `json:"total"`
	ByStatus    map[presale.ManageStatus]int `json:"byStatus"`
	TotalRaised string                       `json:"totalRaised"`
}

func (s *Server) stats(c *gin.Context) {
	rows, err := s.index.ListPresales(c.Request.Context(), nil)
	if err != nil {
		s.fail(c, index.Classify("stats", err))
		return
	}

	now := s.now()
	out := statsBody{Total: len(rows), ByStatus: make(map[presale.ManageStatus]int, len(presale.ManageStatuses))}
	for _, st := range presale.ManageStatuses {
		out.ByStatus[st] = 0
	}
	raised := new(big.Int)
	for i := range rows {
		out.ByStatus[presale.Resolve(&rows[i], now)]++
		if v, ok := new(big.Int).SetString(rows[i].RaisedAmount, 10); ok {
			raised.Add(raised, v)
		}
	}
	out.TotalRaised = raised.String()
	c.JSON(http.StatusOK, out)
}
