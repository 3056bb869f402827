package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/paywall"
	"github.com/xraph/paywall/content"
	"github.com/xraph/paywall/entitlement"
	"github.com/xraph/paywall/ledger"
	"github.com/xraph/paywall/subscription"
	"github.com/xraph/paywall/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type tipRequest struct {
	Amount   int64  `json:"amount" validate:"gt=0"`
	Currency string `json:"currency" validate:"required,len=3,alpha"`
	Note     string `json:"note" validate:"max=280"`
}

type subscriptionResponse struct {
	subscription.View
	Status subscription.Status `json:"status"`
}

type accessResponse struct {
	entitlement.Access
	Reason entitlement.Reason `json:"reason"`
}

func subscriptionView(sub *subscription.Subscription, now time.Time) subscriptionResponse {
	return subscriptionResponse{View: sub.View(), Status: sub.StatusAt(now)}
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	sub, err := s.engine.Subscribe(r.Context(), UserID(r.Context()), chi.URLParam(r, "creatorID"), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionView(sub, now))
}

func (s *Server) renew(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	sub, err := s.engine.Renew(r.Context(), UserID(r.Context()), chi.URLParam(r, "creatorID"), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub, now))
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	sub, err := s.engine.Cancel(r.Context(), UserID(r.Context()), chi.URLParam(r, "creatorID"), now)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionView(sub, now))
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := subscription.ListOpts{Limit: limit, Offset: offset}
	if r.URL.Query().Get("active") == "true" {
		opts.ActiveAt = now
	}

	subs, err := s.engine.ListSubscriptions(r.Context(), UserID(r.Context()), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionView(sub, now))
	}
	writeJSON(w, http.StatusOK, out)
}

// ──────────────────────────────────────────────────
// Purchases and tips
// ──────────────────────────────────────────────────

func (s *Server) unlockPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.engine.Catalog().Content(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.UnlockPPV(r.Context(), UserID(r.Context()), post, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) unlockMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.engine.Catalog().Message(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.engine.UnlockPaidMessage(r.Context(), UserID(r.Context()), msg, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) tip(w http.ResponseWriter, r *http.Request) {
	var req tipRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if err := s.validate.Var(key, "omitempty,max=255,printascii"); err != nil {
		s.writeError(w, r, paywall.ValidationError{Field: "Idempotency-Key", Message: "must be printable ASCII up to 255 characters"})
		return
	}

	var opts []paywall.TipOption
	if key != "" {
		opts = append(opts, paywall.WithIdempotencyKey(key))
	}
	if req.Note != "" {
		opts = append(opts, paywall.WithNote(req.Note))
	}

	amount := types.New(req.Amount, req.Currency)
	entry, err := s.engine.Tip(r.Context(), UserID(r.Context()), chi.URLParam(r, "creatorID"), amount, s.now(), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry.Transaction())
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

func (s *Server) access(w http.ResponseWriter, r *http.Request) {
	contentID := chi.URLParam(r, "contentID")

	var (
		c   *content.Content
		err error
	)
	if r.URL.Query().Get("kind") == "message" {
		c, err = s.engine.Catalog().Message(r.Context(), contentID)
	} else {
		c, err = s.engine.Catalog().Content(r.Context(), contentID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	d, err := s.engine.Resolve(r.Context(), UserID(r.Context()), c, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accessResponse{Access: d.Access(), Reason: d.Reason})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	txns, err := s.engine.ListTransactions(r.Context(), UserID(r.Context()), ledger.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) earnings(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "creatorID")
	if creatorID != UserID(r.Context()) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "earnings are visible to the creator only", Code: "forbidden"})
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, paywall.ValidationError{Field: "since", Message: "must be an RFC 3339 timestamp"})
			return
		}
		since = t
	}

	out, err := s.engine.Earnings(r.Context(), creatorID, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = defaultPageSize
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, paywall.ValidationError{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxPageSize)}
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return 0, 0, paywall.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}
