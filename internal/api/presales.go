package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/0xredeth/launchpad/internal/index"
	"github.com/0xredeth/launchpad/internal/launch"
	"github.com/0xredeth/launchpad/internal/settlement"
	"github.com/0xredeth/launchpad/pkg/presale"
)

// presaleView is a presale record with its derived management status.
type presaleView struct {
	*presale.Presale
	ManageStatus presale.ManageStatus `json:"manageStatus"`
}

func (s *Server) view(p *presale.Presale) presaleView {
	return presaleView{Presale: p, ManageStatus: presale.Resolve(p, s.now())}
}

type reindexBody struct {
	Request    launch.Request    `json:"request"`
	Deployment launch.Deployment `json:"deployment"`
}

type transitionBody struct {
	Status string `json:"status"`
}

type bidBody struct {
	Handle string `json:"handle"`
	Proof  string `json:"proof"`
}

func (s *Server) createPresale(c *gin.Context) {
	var req launch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest("create presale", "invalid body: %v", err))
		return
	}
	rec, err := s.launcher.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.view(rec))
}

func (s *Server) reindexPresale(c *gin.Context) {
	var body reindexBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest("reindex presale", "invalid body: %v", err))
		return
	}
	rec, err := s.launcher.Reindex(c.Request.Context(), body.Request, body.Deployment)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.view(rec))
}

func (s *Server) listPresales(c *gin.Context) {
	filter := presale.NormalizeFilter(presale.ListingParams{
		Status:        c.QueryArray("status"),
		Owner:         c.Query("owner"),
		Creator:       c.Query("creator"),
		Token:         c.Query("token"),
		StartDate:     c.Query("startDate"),
		EndDate:       c.Query("endDate"),
		OnchainStatus: c.QueryArray("onchainStatus"),
	})
	rows, err := index.List(c.Request.Context(), s.index, filter, s.now())
	if err != nil {
		s.fail(c, index.Classify("list presales", err))
		return
	}
	out := make([]presaleView, 0, len(rows))
	for i := range rows {
		out = append(out, s.view(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"presales": out, "count": len(out)})
}

func (s *Server) getPresale(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		s.fail(c, badRequest("get presale", "invalid presale address %q", address))
		return
	}
	rec, err := s.index.FindPresale(c.Request.Context(), address)
	if err != nil {
		s.fail(c, index.Classify("find presale", err))
		return
	}
	c.JSON(http.StatusOK, s.view(rec))
}

func (s *Server) transitionPresale(c *gin.Context) {
	var body transitionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest("status transition", "invalid body: %v", err))
		return
	}
	target, ok := presale.ParseManageStatus(body.Status)
	if !ok {
		s.fail(c, badRequest("status transition", "unknown status %q", body.Status))
		return
	}
	v, err := s.operator.RequestTransition(c.Request.Context(), c.Param("address"), target)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) manageActions(c *gin.Context) {
	v, err := s.operator.Actions(c.Request.Context(), c.Param("address"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) applyManageAction(c *gin.Context) {
	kind, ok := presale.ParseActionKind(c.Param("action"))
	if !ok {
		s.fail(c, badRequest("manage action", "unknown action %q", c.Param("action")))
		return
	}
	v, err := s.operator.Apply(c.Request.Context(), c.Param("address"), kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) evaluateSettlement(c *gin.Context) {
	reveal, _ := strconv.ParseBool(c.DefaultQuery("reveal", "false"))
	ev, err := s.settler.Evaluate(c.Request.Context(), c.Param("address"), c.Param("contributor"), reveal)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) executeSettlement(c *gin.Context) {
	kind, ok := presale.ParseActionKind(c.Param("action"))
	if !ok {
		s.fail(c, badRequest("settlement action", "unknown action %q", c.Param("action")))
		return
	}

	var bid *settlement.BidInput
	if kind == presale.ActionBid {
		var err error
		if bid, err = parseBid(c); err != nil {
			s.fail(c, err)
			return
		}
	}

	ev, err := s.settler.Execute(c.Request.Context(), c.Param("address"), c.Param("contributor"), kind, bid)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func parseBid(c *gin.Context) (*settlement.BidInput, error) {
	var body bidBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, badRequest("bid", "invalid body: %v", err)
	}
	handle, err := hexutil.Decode(body.Handle)
	if err != nil || len(handle) != common.HashLength {
		return nil, badRequest("bid", "handle must be a 32 byte hex value")
	}
	var proof []byte
	if body.Proof != "" {
		if proof, err = hexutil.Decode(body.Proof); err != nil {
			return nil, badRequest("bid", "proof must be hex encoded")
		}
	}
	return &settlement.BidInput{Handle: common.BytesToHash(handle), Proof: proof}, nil
}
