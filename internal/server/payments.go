package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/waslahq/wasla/internal/auth"
	authdomain "github.com/waslahq/wasla/internal/auth/domain"
	"github.com/waslahq/wasla/internal/currency"
	paymentdomain "github.com/waslahq/wasla/internal/payment/domain"
	"github.com/waslahq/wasla/pkg/db/pagination"
)

type paymentView struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Display       string     `json:"display"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	CardLast4     string     `json:"cardLast4,omitempty"`
	CardBrand     string     `json:"cardBrand,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	KioskBillRef  string     `json:"kioskBillRef,omitempty"`
	KioskExpiry   *time.Time `json:"kioskExpiry,omitempty"`
}

func toPaymentView(p paymentdomain.Payment) paymentView {
	display, err := currency.Format(p.Amount, p.Currency)
	if err != nil {
		display = ""
	}
	return paymentView{
		ID:            p.ID.String(),
		Provider:      p.Provider,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Display:       display,
		Status:        string(p.Status),
		PaymentMethod: p.PaymentMethod,
		CardLast4:     p.CardLast4,
		CardBrand:     p.CardBrand,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		KioskBillRef:  p.KioskBillRef,
		KioskExpiry:   p.KioskExpiry,
	}
}

func (s *Server) ListPaymentHistory(c *gin.Context) {
	sess := auth.SessionFrom(c)
	if sess == nil {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payments, info, err := s.paymentSvc.History(c.Request.Context(), sess.UserID, page.PageToken, page.PageSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, toPaymentView(p))
	}
	c.JSON(http.StatusOK, gin.H{"payments": views, "pageInfo": info})
}

// GetKioskBill is the public lookup a kiosk attendant hits to quote an
// outstanding bill. Expired and settled bills 404.
func (s *Server) GetKioskBill(c *gin.Context) {
	payment, err := s.paymentSvc.LookupKioskBill(c.Request.Context(), c.Param("ref"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	display, err := currency.Format(payment.Amount, payment.Currency)
	if err != nil {
		display = ""
	}
	c.JSON(http.StatusOK, gin.H{
		"billRef":   payment.KioskBillRef,
		"amount":    payment.Amount,
		"currency":  payment.Currency,
		"display":   display,
		"status":    string(payment.Status),
		"expiresAt": payment.KioskExpiry,
	})
}
