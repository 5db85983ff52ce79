package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jmorazan/reconcile-backend/internal/api/dto"
	"github.com/jmorazan/reconcile-backend/internal/application/recon"
	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
	"github.com/jmorazan/reconcile-backend/internal/infrastructure/storage"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewHealthResponse())
}

func (s *Server) createDeposit(c *gin.Context) {
	var req dto.CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	date, err := parseDate(req.TransactionDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	status := ""
	if req.Reserved {
		status = reconcile.StatusReserved
	}

	dep := &storage.Deposit{
		ID:              req.ID,
		Amount:          req.Amount,
		Bank:            req.Bank,
		TransactionDate: date,
		VendorName:      req.VendorName,
		StoreName:       req.StoreName,
		Status:          status,
	}

	if err := s.engine.OnDepositCreated(c.Request.Context(), dep); err != nil {
		s.writeError(c, err)
		return
	}

	// The matching pass may have already settled or parked the record.
	saved, err := s.repo.GetDeposit(dep.ID)
	if err != nil || saved == nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) createSale(c *gin.Context) {
	var req dto.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	date, err := parseDate(req.SaleDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	sale := &storage.Sale{
		ID:              req.ID,
		OrderID:         req.OrderID,
		GrossPayments:   req.GrossPayments,
		PaymentGateway:  req.PaymentGateway,
		SaleDate:        date,
		StaffMemberName: req.StaffMemberName,
		StoreName:       req.StoreName,
	}

	if err := s.engine.OnSaleCreated(c.Request.Context(), sale); err != nil {
		s.writeError(c, err)
		return
	}

	saved, err := s.repo.GetSale(sale.ID)
	if err != nil || saved == nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) listDeposits(c *gin.Context) {
	var params dto.ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	deposits, err := s.repo.ListDeposits(storage.RecordFilters{
		Status:  params.Status,
		BankKey: params.BankKey,
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DepositListResponse{
		Deposits: deposits,
		Count:    len(deposits),
		Limit:    params.Limit,
		Offset:   params.Offset,
	})
}

func (s *Server) listSales(c *gin.Context) {
	var params dto.ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	sales, err := s.repo.ListSales(storage.RecordFilters{
		Status:  params.Status,
		BankKey: params.BankKey,
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SaleListResponse{
		Sales:  sales,
		Count:  len(sales),
		Limit:  params.Limit,
		Offset: params.Offset,
	})
}

func (s *Server) getDeposit(c *gin.Context) {
	id := c.Param("id")
	dep, err := s.repo.GetDeposit(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if dep == nil {
		c.JSON(http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, "deposit "+id+" not found"))
		return
	}

	links, err := s.repo.LinksForDeposit(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	history, err := s.repo.HistoryFor(storage.RecordDeposit, id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.DepositResponse{Deposit: dep, Links: links, History: history})
}

func (s *Server) getSale(c *gin.Context) {
	id := c.Param("id")
	sale, err := s.repo.GetSale(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if sale == nil {
		c.JSON(http.StatusNotFound, dto.NewAPIError(dto.ErrCodeNotFound, "sale "+id+" not found"))
		return
	}

	links, err := s.repo.LinksForSale(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	history, err := s.repo.HistoryFor(storage.RecordSale, id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SaleResponse{Sale: sale, Links: links, History: history})
}

func (s *Server) depositCandidates(c *gin.Context) {
	candidates, err := s.engine.CandidatesForDeposit(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

func (s *Server) saleCandidates(c *gin.Context) {
	candidates, err := s.engine.CandidatesForSale(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

func (s *Server) settleSale(c *gin.Context) {
	var req dto.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	result, err := s.engine.ManualSettleSale(c.Request.Context(), c.Param("id"),
		toPickInputs(req.Picks), req.Actor, req.Comment)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) settleDeposit(c *gin.Context) {
	var req dto.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	result, err := s.engine.ManualSettleDeposit(c.Request.Context(), c.Param("id"),
		toPickInputs(req.Picks), req.Actor, req.Comment)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) refundDeposit(c *gin.Context) {
	var req dto.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	if err := s.engine.Refund(c.Request.Context(), c.Param("id"), req.Comment, req.Actor); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": reconcile.StatusRefunded})
}

func (s *Server) revertDeposit(c *gin.Context) {
	var req dto.RevertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewAPIError(dto.ErrCodeInvalidArgument, err.Error()))
		return
	}

	if err := s.engine.Revert(c.Request.Context(), c.Param("id"), req.Reason, req.Actor); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": reconcile.StatusOpen})
}

func (s *Server) discardCandidate(c *gin.Context) {
	if err := s.engine.DiscardCandidate(c.Param("id"), c.Param("depositID")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps a domain error onto the wire format. Internal errors
// keep their detail in the log only.
func (s *Server) writeError(c *gin.Context, err error) {
	if err == nil {
		c.JSON(http.StatusInternalServerError,
			dto.NewAPIError(dto.ErrCodeInternalError, "an internal error occurred"))
		return
	}
	status, apiErr := dto.FromError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, apiErr)
}

func toPickInputs(picks []dto.PickRequest) []recon.PickInput {
	out := make([]recon.PickInput, len(picks))
	for i, p := range picks {
		out[i] = recon.PickInput{CounterpartyID: p.CounterpartyID, UseAmount: p.UseAmount}
	}
	return out
}

// parseDate accepts RFC3339 or plain dates; empty stays zero and is
// treated as an unparsable date downstream.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
