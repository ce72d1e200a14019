package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/waslahq/wasla/internal/auth"
	authdomain "github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/plan"
	subscriptiondomain "github.com/waslahq/wasla/internal/subscription/domain"
)

type subscriptionView struct {
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	CancelAtPeriodEnd  bool       `json:"cancelAtPeriodEnd"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	Provider           string     `json:"provider"`
	PriceDisplay       string     `json:"priceDisplay,omitempty"`
}

func toSubscriptionView(sub *subscriptiondomain.Subscription) subscriptionView {
	view := subscriptionView{
		Plan:               sub.Plan,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		Provider:           sub.PaymentProvider,
	}
	if tier, ok := plan.Parse(sub.Plan); ok {
		if entry, ok := plan.Lookup(tier); ok && tier.Paid() {
			view.PriceDisplay = plan.FormatPrice(entry.MonthlyUSD, false)
		}
	}
	return view
}

func (s *Server) GetSubscription(c *gin.Context) {
	sess := auth.SessionFrom(c)
	if sess == nil {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.CurrentForUser(c.Request.Context(), sess.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubscriptionView(sub))
}

type cancelRequest struct {
	Immediate bool `json:"immediate"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	sess := auth.SessionFrom(c)
	if sess == nil {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	sub, err := s.subscriptionSvc.CancelForUser(c.Request.Context(), sess.UserID, req.Immediate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubscriptionView(sub))
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	sess := auth.SessionFrom(c)
	if sess == nil {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.ResumeForUser(c.Request.Context(), sess.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSubscriptionView(sub))
}
