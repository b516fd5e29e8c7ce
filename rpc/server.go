package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guildhall/core/state"
	"guildhall/crypto"
	"guildhall/native/guild"
	"guildhall/native/token"
	"guildhall/observability/metrics"
)

// Server exposes the guild state machine over HTTP. Mutating endpoints apply
// exactly one engine operation per request: the backing trie commits on
// success and rolls back to the previous root on failure, so every operation
// is atomic.
type Server struct {
	engine  *guild.Engine
	tokens  *token.Engine
	manager *state.Manager
	logger  *slog.Logger
	metrics *metrics.GuildMetrics

	// mu serialises state transitions; the core is single-threaded at the
	// granularity of one top-level operation.
	mu    sync.Mutex
	block uint64
}

// NewServer wires the HTTP surface to the engines and state manager.
func NewServer(engine *guild.Engine, tokens *token.Engine, manager *state.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		tokens:  tokens,
		manager: manager,
		logger:  logger,
		metrics: metrics.Guild(),
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/guild", func(gr chi.Router) {
		gr.Get("/config", s.handleConfig)
		gr.Get("/period", s.handlePeriod)
		gr.Get("/totals", s.handleTotals)
		gr.Get("/tokens", s.handleTokens)
		gr.Get("/queue", s.handleQueue)
		gr.Get("/members/{address}", s.handleMember)
		gr.Get("/delegates/{address}", s.handleDelegate)
		gr.Get("/proposals/{id}", s.handleProposal)
		gr.Get("/balances/{address}/{token}", s.handleBalance)

		gr.Post("/submit", s.handleSubmit)
		gr.Post("/submit-whitelist", s.handleSubmitWhitelist)
		gr.Post("/submit-guildkick", s.handleSubmitGuildKick)
		gr.Post("/sponsor", s.handleSponsor)
		gr.Post("/vote", s.handleVote)
		gr.Post("/process", s.handleProcess)
		gr.Post("/process-whitelist", s.handleProcessWhitelist)
		gr.Post("/process-guildkick", s.handleProcessGuildKick)
		gr.Post("/cancel", s.handleCancel)
		gr.Post("/ragequit", s.handleRagequit)
		gr.Post("/ragekick", s.handleRagekick)
		gr.Post("/update-delegate", s.handleUpdateDelegate)
		gr.Post("/withdraw", s.handleWithdraw)
		gr.Post("/collect", s.handleCollect)
	})

	r.Route("/v1/token", func(tr chi.Router) {
		tr.Get("/{token}/balances/{address}", s.handleTokenBalance)
		tr.Post("/approve", s.handleApprove)
		tr.Post("/transfer", s.handleTokenTransfer)
	})

	return r
}

// transition runs one engine operation atomically against the trie.
func (s *Server) transition(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.manager.Trie().Root()
	if err := op(); err != nil {
		if resetErr := s.manager.Trie().Reset(previous); resetErr != nil {
			s.logger.Error("rollback failed", "err", resetErr)
		}
		return err
	}
	s.block++
	if _, err := s.manager.Trie().Commit(s.block); err != nil {
		s.logger.Error("commit failed", "err", err)
		if resetErr := s.manager.Trie().Reset(previous); resetErr != nil {
			s.logger.Error("rollback failed", "err", resetErr)
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, guild.ErrNoSuchProposal) || errors.Is(err, guild.ErrNoSuchMember) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func parseAddress(raw string) (crypto.Address, error) {
	return crypto.DecodeAddress(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("rpc: invalid decimal amount")
	}
	return amount, nil
}

func parseAmounts(raw []string) ([]*big.Int, error) {
	amounts := make([]*big.Int, len(raw))
	for i, value := range raw {
		amount, err := parseAmount(value)
		if err != nil {
			return nil, err
		}
		amounts[i] = amount
	}
	return amounts, nil
}

// --- views ---

type proposalView struct {
	ID               uint64 `json:"id"`
	Applicant        string `json:"applicant,omitempty"`
	Proposer         string `json:"proposer"`
	Sponsor          string `json:"sponsor,omitempty"`
	SharesRequested  string `json:"sharesRequested"`
	LootRequested    string `json:"lootRequested"`
	TributeOffered   string `json:"tributeOffered"`
	TributeToken     string `json:"tributeToken,omitempty"`
	PaymentRequested string `json:"paymentRequested"`
	PaymentToken     string `json:"paymentToken,omitempty"`
	StartingPeriod   uint64 `json:"startingPeriod"`
	YesVotes         string `json:"yesVotes"`
	NoVotes          string `json:"noVotes"`
	Details          string `json:"details"`
	Sponsored        bool   `json:"sponsored"`
	Processed        bool   `json:"processed"`
	DidPass          bool   `json:"didPass"`
	Cancelled        bool   `json:"cancelled"`
	Whitelist        bool   `json:"whitelist"`
	GuildKick        bool   `json:"guildKick"`
}

func newProposalView(p *guild.Proposal) proposalView {
	view := proposalView{
		ID:               p.ID,
		Proposer:         p.Proposer.String(),
		SharesRequested:  p.SharesRequested.String(),
		LootRequested:    p.LootRequested.String(),
		TributeOffered:   p.TributeOffered.String(),
		PaymentRequested: p.PaymentRequested.String(),
		StartingPeriod:   p.StartingPeriod,
		YesVotes:         p.YesVotes.String(),
		NoVotes:          p.NoVotes.String(),
		Details:          p.Details,
		Sponsored:        p.Flags.Sponsored,
		Processed:        p.Flags.Processed,
		DidPass:          p.Flags.DidPass,
		Cancelled:        p.Flags.Cancelled,
		Whitelist:        p.Flags.Whitelist,
		GuildKick:        p.Flags.GuildKick,
	}
	if !p.Applicant.IsZero() {
		view.Applicant = p.Applicant.String()
	}
	if !p.Sponsor.IsZero() {
		view.Sponsor = p.Sponsor.String()
	}
	if !p.TributeToken.IsZero() {
		view.TributeToken = p.TributeToken.String()
	}
	if !p.PaymentToken.IsZero() {
		view.PaymentToken = p.PaymentToken.String()
	}
	return view
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	params, err := s.engine.Config()
	if err != nil {
		writeError(w, err)
		return
	}
	depositToken, err := s.engine.DepositToken()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"periodDuration":     params.PeriodDuration,
		"votingPeriodLength": params.VotingPeriodLength,
		"gracePeriodLength":  params.GracePeriodLength,
		"proposalDeposit":    params.ProposalDeposit.String(),
		"dilutionBound":      params.DilutionBound,
		"processingReward":   params.ProcessingReward.String(),
		"summoningTime":      params.SummoningTime,
		"depositToken":       depositToken.String(),
	})
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := s.engine.CurrentPeriod()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"currentPeriod": period})
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	shares, err := s.engine.TotalShares()
	if err != nil {
		writeError(w, err)
		return
	}
	loot, err := s.engine.TotalLoot()
	if err != nil {
		writeError(w, err)
		return
	}
	bankTokens, err := s.engine.TotalGuildBankTokens()
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := s.engine.ProposalCount()
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.SetGuildBankTokens(bankTokens)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totalShares":          shares.String(),
		"totalLoot":            loot.String(),
		"totalGuildBankTokens": bankTokens,
		"proposalCount":        count,
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.engine.ApprovedTokens()
	if err != nil {
		writeError(w, err)
		return
	}
	encoded := make([]string, len(tokens))
	for i, tokenAddr := range tokens {
		encoded[i] = tokenAddr.String()
	}
	s.metrics.SetWhitelistSize(len(tokens))
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvedTokens": encoded})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	length, err := s.engine.ProposalQueueLength()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"length": length})
}

func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	member, ok, err := s.engine.MemberOf(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "member not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":             member.Address.String(),
		"delegateKey":         member.DelegateKey.String(),
		"shares":              member.Shares.String(),
		"loot":                member.Loot.String(),
		"exists":              member.Exists,
		"highestIndexYesVote": member.HighestIndexYesVote,
		"jailed":              member.Jailed,
	})
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	member, ok, err := s.engine.MemberAddressByDelegateKey(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "delegate not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"member": member.String()})
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, err)
		return
	}
	proposal, ok, err := s.engine.ProposalByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "proposal not found"})
		return
	}
	writeJSON(w, http.StatusOK, newProposalView(proposal))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	tokenAddr, err := parseAddress(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.engine.UserTokenBalance(addr, tokenAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, err := parseAddress(chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	balance, err := s.tokens.BalanceOf(tokenAddr, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}
