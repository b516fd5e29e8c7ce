package guild

import "errors"

// Precondition violations surfaced to callers. Every failed operation rolls
// back in full; callers dispatch on the stable kind with errors.Is.
var (
	ErrDuplicateToken            = errors.New("guild: duplicate approved token")
	ErrTokenNotWhitelisted       = errors.New("guild: token is not whitelisted")
	ErrTokenAlreadyWhitelisted   = errors.New("guild: token is already whitelisted")
	ErrTooManyShares             = errors.New("guild: too many shares requested")
	ErrApplicantReserved         = errors.New("guild: applicant address is reserved")
	ErrApplicantJailed           = errors.New("guild: applicant must not be jailed")
	ErrGuildBankFull             = errors.New("guild: guild bank token capacity reached")
	ErrWhitelistFull             = errors.New("guild: token whitelist capacity reached")
	ErrAlreadyProposedToWhitelist = errors.New("guild: token already proposed to whitelist")
	ErrAlreadyProposedToKick     = errors.New("guild: member already proposed to kick")
	ErrNotSponsored              = errors.New("guild: proposal has not been sponsored")
	ErrAlreadySponsored          = errors.New("guild: proposal has already been sponsored")
	ErrAlreadyCancelled          = errors.New("guild: proposal has been cancelled")
	ErrAlreadyProcessed          = errors.New("guild: proposal has already been processed")
	ErrNotReady                  = errors.New("guild: proposal is not ready to be processed")
	ErrWrongProposalKind         = errors.New("guild: proposal kind does not match entry point")
	ErrNoSuchProposal            = errors.New("guild: proposal does not exist")
	ErrNoSuchMember              = errors.New("guild: member does not exist")
	ErrNotProposer               = errors.New("guild: only the proposer can cancel")
	ErrAlreadyVoted              = errors.New("guild: member has already voted")
	ErrVotingClosed              = errors.New("guild: voting period has expired")
	ErrNotYetOpen                = errors.New("guild: voting period has not started")
	ErrInvalidVote               = errors.New("guild: vote must be yes or no")
	ErrInsufficientShares        = errors.New("guild: insufficient shares or loot")
	ErrInsufficientBalance       = errors.New("guild: insufficient balance")
	ErrHighestYesVoteUnprocessed = errors.New("guild: highest-index yes vote not yet processed")
	ErrDelegateKeyTaken          = errors.New("guild: delegate key already in use")
	ErrZeroAddress               = errors.New("guild: address must not be zero")
	ErrDepositLessThanReward     = errors.New("guild: proposal deposit cannot be smaller than processing reward")
	ErrNotJailed                 = errors.New("guild: member is not jailed")
	ErrNothingToCollect          = errors.New("guild: no tokens to collect")
)

// Fatal arithmetic faults. The configured bounds make overflow unreachable;
// observing one indicates a bug, not a caller error.
var ErrOverflow = errors.New("guild: arithmetic overflow")

// ErrTransferFailed wraps failures reported by the external token contract.
var ErrTransferFailed = errors.New("guild: token transfer failed")

var errStateNotConfigured = errors.New("guild: state not configured")
