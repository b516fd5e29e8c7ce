package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// GuildMetrics aggregates the prometheus collectors tracking guild activity.
type GuildMetrics struct {
	proposalsSubmitted *prometheus.CounterVec
	proposalsSponsored prometheus.Counter
	votesCast          prometheus.Counter
	proposalsProcessed *prometheus.CounterVec
	ragequits          prometheus.Counter
	withdrawals        prometheus.Counter
	guildBankTokens    prometheus.Gauge
	whitelistSize      prometheus.Gauge
}

var (
	guildOnce     sync.Once
	guildRegistry *GuildMetrics
)

// Guild returns the process-wide guild metrics registry.
func Guild() *GuildMetrics {
	guildOnce.Do(func() {
		guildRegistry = &GuildMetrics{
			proposalsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "guild_proposals_submitted_total",
				Help: "Count of submitted proposals by kind.",
			}, []string{"kind"}),
			proposalsSponsored: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "guild_proposals_sponsored_total",
				Help: "Count of proposals moved into the voting queue.",
			}),
			votesCast: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "guild_votes_cast_total",
				Help: "Count of recorded ballots.",
			}),
			proposalsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "guild_proposals_processed_total",
				Help: "Count of processed proposals by kind and outcome.",
			}, []string{"kind", "outcome"}),
			ragequits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "guild_ragequits_total",
				Help: "Count of voluntary and forced member exits.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "guild_withdrawals_total",
				Help: "Count of internal balance withdrawals.",
			}),
			guildBankTokens: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "guild_bank_tokens",
				Help: "Whitelisted tokens with a non-zero guild bank balance.",
			}),
			whitelistSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "guild_whitelist_size",
				Help: "Number of approved tokens.",
			}),
		}
		prometheus.MustRegister(
			guildRegistry.proposalsSubmitted,
			guildRegistry.proposalsSponsored,
			guildRegistry.votesCast,
			guildRegistry.proposalsProcessed,
			guildRegistry.ragequits,
			guildRegistry.withdrawals,
			guildRegistry.guildBankTokens,
			guildRegistry.whitelistSize,
		)
	})
	return guildRegistry
}

// ProposalSubmitted records a submitted proposal of the given kind.
func (m *GuildMetrics) ProposalSubmitted(kind string) {
	m.proposalsSubmitted.WithLabelValues(kind).Inc()
}

// ProposalSponsored records a sponsorship.
func (m *GuildMetrics) ProposalSponsored() { m.proposalsSponsored.Inc() }

// VoteCast records a ballot.
func (m *GuildMetrics) VoteCast() { m.votesCast.Inc() }

// ProposalProcessed records a processing outcome.
func (m *GuildMetrics) ProposalProcessed(kind string, didPass bool) {
	outcome := "failed"
	if didPass {
		outcome = "passed"
	}
	m.proposalsProcessed.WithLabelValues(kind, outcome).Inc()
}

// Ragequit records a member exit.
func (m *GuildMetrics) Ragequit() { m.ragequits.Inc() }

// Withdrawal records an internal balance withdrawal.
func (m *GuildMetrics) Withdrawal() { m.withdrawals.Inc() }

// SetGuildBankTokens updates the guild bank token gauge.
func (m *GuildMetrics) SetGuildBankTokens(count uint64) {
	m.guildBankTokens.Set(float64(count))
}

// SetWhitelistSize updates the approved token gauge.
func (m *GuildMetrics) SetWhitelistSize(count int) {
	m.whitelistSize.Set(float64(count))
}
