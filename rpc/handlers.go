package rpc

import (
	"net/http"

	"guildhall/crypto"
	"guildhall/native/guild"
)

type submitRequest struct {
	Caller           string `json:"caller"`
	Applicant        string `json:"applicant"`
	SharesRequested  string `json:"sharesRequested"`
	LootRequested    string `json:"lootRequested"`
	TributeOffered   string `json:"tributeOffered"`
	TributeToken     string `json:"tributeToken"`
	PaymentRequested string `json:"paymentRequested"`
	PaymentToken     string `json:"paymentToken"`
	Details          string `json:"details"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	applicant, err := parseAddress(req.Applicant)
	if err != nil {
		writeError(w, err)
		return
	}
	tributeToken, err := parseAddress(req.TributeToken)
	if err != nil {
		writeError(w, err)
		return
	}
	paymentToken, err := parseAddress(req.PaymentToken)
	if err != nil {
		writeError(w, err)
		return
	}
	shares, err := parseAmount(req.SharesRequested)
	if err != nil {
		writeError(w, err)
		return
	}
	loot, err := parseAmount(req.LootRequested)
	if err != nil {
		writeError(w, err)
		return
	}
	tribute, err := parseAmount(req.TributeOffered)
	if err != nil {
		writeError(w, err)
		return
	}
	payment, err := parseAmount(req.PaymentRequested)
	if err != nil {
		writeError(w, err)
		return
	}
	var id uint64
	err = s.transition(func() error {
		var opErr error
		id, opErr = s.engine.SubmitProposal(caller, applicant, shares, loot, tribute, tributeToken, payment, paymentToken, req.Details)
		return opErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.ProposalSubmitted("standard")
	writeJSON(w, http.StatusOK, map[string]uint64{"proposalId": id})
}

type submitWhitelistRequest struct {
	Caller  string `json:"caller"`
	Token   string `json:"token"`
	Details string `json:"details"`
}

func (s *Server) handleSubmitWhitelist(w http.ResponseWriter, r *http.Request) {
	var req submitWhitelistRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	tokenAddr, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	var id uint64
	err = s.transition(func() error {
		var opErr error
		id, opErr = s.engine.SubmitWhitelistProposal(caller, tokenAddr, req.Details)
		return opErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.ProposalSubmitted("whitelist")
	writeJSON(w, http.StatusOK, map[string]uint64{"proposalId": id})
}

type submitGuildKickRequest struct {
	Caller  string `json:"caller"`
	Member  string `json:"member"`
	Details string `json:"details"`
}

func (s *Server) handleSubmitGuildKick(w http.ResponseWriter, r *http.Request) {
	var req submitGuildKickRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := parseAddress(req.Member)
	if err != nil {
		writeError(w, err)
		return
	}
	var id uint64
	err = s.transition(func() error {
		var opErr error
		id, opErr = s.engine.SubmitGuildKickProposal(caller, target, req.Details)
		return opErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.ProposalSubmitted("guildkick")
	writeJSON(w, http.StatusOK, map[string]uint64{"proposalId": id})
}

type proposalIDRequest struct {
	Caller     string `json:"caller"`
	ProposalID uint64 `json:"proposalId"`
}

func (s *Server) handleSponsor(w http.ResponseWriter, r *http.Request) {
	var req proposalIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.SponsorProposal(caller, req.ProposalID)
	}); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.ProposalSponsored()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type voteRequest struct {
	Caller        string `json:"caller"`
	ProposalIndex uint64 `json:"proposalIndex"`
	// Vote uses the wire encoding: 1 = yes, 2 = no.
	Vote uint8 `json:"vote"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.SubmitVote(caller, req.ProposalIndex, guild.Vote(req.Vote))
	}); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.VoteCast()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type processRequest struct {
	Caller        string `json:"caller"`
	ProposalIndex uint64 `json:"proposalIndex"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	s.process(w, r, "standard", s.engine.ProcessProposal)
}

func (s *Server) handleProcessWhitelist(w http.ResponseWriter, r *http.Request) {
	s.process(w, r, "whitelist", s.engine.ProcessWhitelistProposal)
}

func (s *Server) handleProcessGuildKick(w http.ResponseWriter, r *http.Request) {
	s.process(w, r, "guildkick", s.engine.ProcessGuildKickProposal)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, kind string, fn func(crypto.Address, uint64) (bool, error)) {
	var req processRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	var didPass bool
	err = s.transition(func() error {
		var opErr error
		didPass, opErr = fn(caller, req.ProposalIndex)
		return opErr
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.ProposalProcessed(kind, didPass)
	writeJSON(w, http.StatusOK, map[string]bool{"didPass": didPass})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req proposalIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.CancelProposal(caller, req.ProposalID)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type ragequitRequest struct {
	Caller       string `json:"caller"`
	SharesToBurn string `json:"sharesToBurn"`
	LootToBurn   string `json:"lootToBurn"`
}

func (s *Server) handleRagequit(w http.ResponseWriter, r *http.Request) {
	var req ragequitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	shares, err := parseAmount(req.SharesToBurn)
	if err != nil {
		writeError(w, err)
		return
	}
	loot, err := parseAmount(req.LootToBurn)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.Ragequit(caller, shares, loot)
	}); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Ragequit()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type ragekickRequest struct {
	Caller string `json:"caller"`
	Member string `json:"member"`
}

func (s *Server) handleRagekick(w http.ResponseWriter, r *http.Request) {
	var req ragekickRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := parseAddress(req.Member)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.Ragekick(caller, target)
	}); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Ragequit()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type updateDelegateRequest struct {
	Caller      string `json:"caller"`
	DelegateKey string `json:"delegateKey"`
}

func (s *Server) handleUpdateDelegate(w http.ResponseWriter, r *http.Request) {
	var req updateDelegateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	delegate, err := parseAddress(req.DelegateKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.UpdateDelegateKey(caller, delegate)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type withdrawRequest struct {
	Caller  string   `json:"caller"`
	Tokens  []string `json:"tokens"`
	Amounts []string `json:"amounts"`
	Max     bool     `json:"max"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	tokens := make([]crypto.Address, len(req.Tokens))
	for i, raw := range req.Tokens {
		tokens[i], err = parseAddress(raw)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	values, err := parseAmounts(req.Amounts)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.WithdrawBalances(caller, tokens, values, req.Max)
	}); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.Withdrawal()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type collectRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	tokenAddr, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.engine.CollectTokens(caller, tokenAddr)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type approveRequest struct {
	Caller  string `json:"caller"`
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	tokenAddr, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.tokens.Approve(tokenAddr, caller, spender, amount)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type tokenTransferRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	var req tokenTransferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, err)
		return
	}
	tokenAddr, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.transition(func() error {
		return s.tokens.Transfer(tokenAddr, caller, to, amount)
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
