package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"guildhall/config"
	"guildhall/core/events"
	"guildhall/core/state"
	"guildhall/core/types"
	"guildhall/crypto"
	"guildhall/native/guild"
	"guildhall/native/token"
	"guildhall/observability/logging"
	"guildhall/rpc"
	"guildhall/storage"
	"guildhall/storage/trie"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "guildd.toml", "path to guildd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GUILD_ENV"))
	logger := logging.Setup("guildd", env)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var db storage.Database
	if strings.TrimSpace(cfg.DataDir) == "" {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		db = ldb
	}
	defer db.Close()

	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		log.Fatalf("open state trie: %v", err)
	}
	manager := state.NewManager(tr)

	tokenEngine := token.NewEngine(manager)
	self := crypto.GuildContractAddress()
	engine := guild.NewEngine()
	engine.SetState(manager)
	engine.SetSelfAddress(self)
	engine.SetTokenCaller(token.NewGuildCaller(tokenEngine, self))
	engine.SetEmitter(&logEmitter{logger: logger})

	if err := summonIfNeeded(cfg, engine, tokenEngine, manager); err != nil {
		log.Fatalf("summon guild: %v", err)
	}

	server := rpc.NewServer(engine, tokenEngine, manager, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("rpc listening", "addr", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve rpc: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	logger.Info("guildd stopped")
}

// summonIfNeeded registers the genesis tokens and summons the guild on first
// boot. An already-summoned state restarts without touching genesis.
func summonIfNeeded(cfg *config.Config, engine *guild.Engine, tokens *token.Engine, manager *state.Manager) error {
	if _, ok, err := manager.GuildParams(); err != nil {
		return err
	} else if ok {
		return nil
	}

	for _, tg := range cfg.Genesis.Tokens {
		addr, err := crypto.DecodeAddress(tg.Address)
		if err != nil {
			return err
		}
		authority := addr
		if strings.TrimSpace(tg.MintAuthority) != "" {
			authority, err = crypto.DecodeAddress(tg.MintAuthority)
			if err != nil {
				return err
			}
		}
		if err := tokens.Register(token.Metadata{
			Address:       addr,
			Symbol:        tg.Symbol,
			Name:          tg.Name,
			Decimals:      tg.Decimals,
			MintAuthority: authority,
		}); err != nil {
			return err
		}
		for _, mint := range tg.Mint {
			to, err := crypto.DecodeAddress(mint.To)
			if err != nil {
				return err
			}
			amount, ok := new(big.Int).SetString(mint.Amount, 10)
			if !ok {
				return errors.New("invalid genesis mint amount")
			}
			if err := tokens.Mint(authority, addr, to, amount); err != nil {
				return err
			}
		}
	}

	genesis, err := cfg.Genesis.GuildGenesis()
	if err != nil {
		return err
	}
	if err := engine.Summon(genesis); err != nil {
		return err
	}
	_, err = manager.Trie().Commit(0)
	return err
}

// logEmitter forwards domain events to the structured logger.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	if l == nil || l.logger == nil || evt == nil {
		return
	}
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("event", "type", evt.EventType())
		return
	}
	payload := carrier.Event()
	attrs := make([]any, 0, 2+2*len(payload.Attributes))
	attrs = append(attrs, "type", payload.Type)
	for key, value := range payload.Attributes {
		attrs = append(attrs, key, value)
	}
	l.logger.Info("event", attrs...)
}
