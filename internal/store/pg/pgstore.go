package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
)

const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"

	maxTxAttempts = 3
)

// ErrAlreadyDeployed is returned by Deploy when ledger_state already has a row.
var ErrAlreadyDeployed = errors.New("pg: ledger already deployed")

// Store persists the ledger in PostgreSQL. Every mutation runs in one
// serializable transaction that locks ledger_state, so blocks are totally ordered.
type Store struct {
	db      *sql.DB
	now     func() time.Time
	onEvent func(ledger.Event)
}

var _ ledger.Service = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithEvents registers a callback invoked after each committed distribution or claim.
func WithEvents(fn func(ledger.Event)) Option {
	return func(s *Store) { s.onEvent = fn }
}

// WithClock overrides the time source used for distribution dates.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Deploy creates the ledger: block 1 mints initialSupply to owner.
func (s *Store) Deploy(ctx context.Context, owner, backend common.Address, initialSupply *uint256.Int) error {
	if initialSupply == nil {
		initialSupply = new(uint256.Int)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		insert into ledger_state(id, owner, backend, height, total_supply)
		values (1, $1, $2, 1, $3::numeric)
		on conflict (id) do nothing
	`, hexAddr(owner), hexAddr(backend), initialSupply.Dec())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrAlreadyDeployed
	}
	if !initialSupply.IsZero() {
		if err := setBalance(ctx, tx, owner, 1, initialSupply); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- reads ---

func (s *Store) BlockNumber(ctx context.Context) (uint64, error) {
	st, err := loadState(ctx, s.db, false)
	if err != nil {
		return 0, err
	}
	return st.height, nil
}

func (s *Store) Owner(ctx context.Context) (common.Address, error) {
	st, err := loadState(ctx, s.db, false)
	if err != nil {
		return common.Address{}, err
	}
	return st.owner, nil
}

func (s *Store) BackendAddress(ctx context.Context) (common.Address, error) {
	st, err := loadState(ctx, s.db, false)
	if err != nil {
		return common.Address{}, err
	}
	return st.backend, nil
}

func (s *Store) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	st, err := loadState(ctx, s.db, false)
	if err != nil {
		return nil, err
	}
	return st.supply, nil
}

func (s *Store) BalanceAt(ctx context.Context, holder common.Address, block *uint64) (*uint256.Int, error) {
	if block == nil {
		return latestBalance(ctx, s.db, holder)
	}
	st, err := loadState(ctx, s.db, false)
	if err != nil {
		return nil, err
	}
	if *block > st.height {
		return nil, ledger.ErrFutureBlock
	}
	return balanceAt(ctx, s.db, holder, *block)
}

func (s *Store) GetDistribution(ctx context.Context, id uint64) (ledger.Distribution, error) {
	return getDistribution(ctx, s.db, id)
}

func (s *Store) UnclaimedDistributions(ctx context.Context, holder common.Address) ([]ledger.Distribution, error) {
	rows, err := s.db.QueryContext(ctx, `
		select d.id, d.total_amount::text, d.distribution_date, d.distribution_block, d.tokens_excluding_owner::text
		from distributions d
		where not exists (
			select 1 from claims c where c.distribution_id = d.id and c.holder = $1
		)
		order by d.id asc
	`, hexAddr(holder))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []ledger.Distribution{}
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *Store) HasClaimed(ctx context.Context, id uint64, holder common.Address) (bool, error) {
	return hasClaimed(ctx, s.db, id, holder)
}

// --- mutations ---

func (s *Store) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ledger.ErrZeroAddress
	}
	if amount == nil {
		return ledger.ErrInvalidAmount
	}
	return s.mutate(ctx, func(tx *sql.Tx, st *state) error {
		fromBal, err := latestBalance(ctx, tx, from)
		if err != nil {
			return err
		}
		newFrom, err := ledger.SubChecked(fromBal, amount)
		if err != nil {
			return err
		}
		if from == to {
			return nil
		}
		toBal, err := latestBalance(ctx, tx, to)
		if err != nil {
			return err
		}
		newTo, err := ledger.AddChecked(toBal, amount)
		if err != nil {
			return err
		}
		if err := setBalance(ctx, tx, from, st.height, newFrom); err != nil {
			return err
		}
		return setBalance(ctx, tx, to, st.height, newTo)
	})
}

func (s *Store) Burn(ctx context.Context, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ledger.ErrInvalidAmount
	}
	return s.mutate(ctx, func(tx *sql.Tx, st *state) error {
		bal, err := latestBalance(ctx, tx, holder)
		if err != nil {
			return err
		}
		newBal, err := ledger.SubChecked(bal, amount)
		if err != nil {
			return err
		}
		supply, err := ledger.SubChecked(st.supply, amount)
		if err != nil {
			return err
		}
		st.supply = supply
		return setBalance(ctx, tx, holder, st.height, newBal)
	})
}

func (s *Store) GenerateTokensForRealEstatePurchase(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return s.mutate(ctx, func(tx *sql.Tx, st *state) error {
		if err := ledger.PlanMint(caller, st.owner, amount, st.supply); err != nil {
			return err
		}
		return st.mint(ctx, tx, st.owner, amount)
	})
}

func (s *Store) SetBackendAddress(ctx context.Context, caller, backend common.Address) error {
	return s.mutate(ctx, func(tx *sql.Tx, st *state) error {
		if err := ledger.PlanBackend(caller, st.owner, backend); err != nil {
			return err
		}
		st.backend = backend
		return nil
	})
}

func (s *Store) DistributeProfit(ctx context.Context, caller common.Address, amount *uint256.Int) (ledger.Distribution, error) {
	var d ledger.Distribution
	err := s.mutate(ctx, func(tx *sql.Tx, st *state) error {
		ownerBal, err := latestBalance(ctx, tx, st.owner)
		if err != nil {
			return err
		}
		excl, err := ledger.PlanDistribution(caller, st.owner, amount, st.supply, ownerBal)
		if err != nil {
			return err
		}
		var next uint64
		if err := tx.QueryRowContext(ctx, `select coalesce(max(id) + 1, 0) from distributions`).Scan(&next); err != nil {
			return err
		}
		d = ledger.Distribution{
			ID:                   next,
			TotalAmount:          amount.Clone(),
			DistributionDate:     s.now().UTC().Truncate(time.Second),
			DistributionBlock:    st.height,
			TokensExcludingOwner: excl,
		}
		_, err = tx.ExecContext(ctx, `
			insert into distributions(id, total_amount, distribution_date, distribution_block, tokens_excluding_owner)
			values ($1, $2::numeric, $3, $4, $5::numeric)
		`, d.ID, d.TotalAmount.Dec(), d.DistributionDate, d.DistributionBlock, d.TokensExcludingOwner.Dec())
		return err
	})
	if err != nil {
		return ledger.Distribution{}, err
	}
	s.emit(ledger.Event{Type: ledger.EventDistributionCreated, DistributionID: d.ID, Amount: d.TotalAmount, Block: d.DistributionBlock, At: d.DistributionDate})
	return d, nil
}

func (s *Store) ClaimProfit(ctx context.Context, caller common.Address, id uint64, balance *uint256.Int, sig []byte) (*uint256.Int, error) {
	var payout *uint256.Int
	var block uint64
	err := s.mutate(ctx, func(tx *sql.Tx, st *state) error {
		d, err := getDistribution(ctx, tx, id)
		if err != nil {
			return err
		}
		claimed, err := hasClaimed(ctx, tx, id, caller)
		if err != nil {
			return err
		}
		payout, err = ledger.PlanClaim(ledger.ClaimInput{
			Caller:       caller,
			Owner:        st.owner,
			Backend:      st.backend,
			Distribution: d,
			Claimed:      claimed,
			Balance:      balance,
			Signature:    sig,
		})
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			insert into claims(distribution_id, holder, balance, payout, block, claimed_at)
			values ($1, $2, $3::numeric, $4::numeric, $5, now())
			on conflict (distribution_id, holder) do nothing
		`, id, hexAddr(caller), balance.Dec(), payout.Dec(), st.height)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ledger.ErrAlreadyClaimed
		}
		block = st.height
		return st.mint(ctx, tx, caller, payout)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ledger.Event{Type: ledger.EventDistributionClaimed, DistributionID: id, Holder: caller, Amount: payout, Block: block, At: s.now().UTC()})
	return payout, nil
}

// mutate mines one block. fn sees st.height as the block being mined; nothing
// is written when fn fails. Serialization conflicts are retried.
func (s *Store) mutate(ctx context.Context, fn func(tx *sql.Tx, st *state) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.mutateOnce(ctx, fn)
		if !retryable(err) {
			return err
		}
	}
	return err
}

func (s *Store) mutateOnce(ctx context.Context, fn func(tx *sql.Tx, st *state) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	st, err := loadState(ctx, tx, true)
	if err != nil {
		return err
	}
	st.height++
	if err := fn(tx, st); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update ledger_state set backend = $1, height = $2, total_supply = $3::numeric
		where id = 1
	`, hexAddr(st.backend), st.height, st.supply.Dec()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) emit(evt ledger.Event) {
	if s.onEvent != nil {
		s.onEvent(evt)
	}
}

// --- helpers ---

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type state struct {
	owner   common.Address
	backend common.Address
	height  uint64
	supply  *uint256.Int
}

func (st *state) mint(ctx context.Context, tx *sql.Tx, to common.Address, amount *uint256.Int) error {
	supply, err := ledger.AddChecked(st.supply, amount)
	if err != nil {
		return err
	}
	bal, err := latestBalance(ctx, tx, to)
	if err != nil {
		return err
	}
	newBal, err := ledger.AddChecked(bal, amount)
	if err != nil {
		return err
	}
	st.supply = supply
	return setBalance(ctx, tx, to, st.height, newBal)
}

func loadState(ctx context.Context, q querier, lock bool) (*state, error) {
	query := `select owner, backend, height, total_supply::text from ledger_state where id = 1`
	if lock {
		query += ` for update`
	}
	var owner, backend, supply string
	st := &state{}
	err := q.QueryRowContext(ctx, query).Scan(&owner, &backend, &st.height, &supply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ledger not deployed", ledger.ErrUnavailable)
	}
	if err != nil {
		return nil, err
	}
	st.owner = common.HexToAddress(owner)
	st.backend = common.HexToAddress(backend)
	if st.supply, err = parseNumeric(supply); err != nil {
		return nil, err
	}
	return st, nil
}

func latestBalance(ctx context.Context, q querier, holder common.Address) (*uint256.Int, error) {
	return scanBalance(q.QueryRowContext(ctx, `
		select amount::text from balance_checkpoints
		where holder = $1
		order by block desc limit 1
	`, hexAddr(holder)))
}

func balanceAt(ctx context.Context, q querier, holder common.Address, block uint64) (*uint256.Int, error) {
	return scanBalance(q.QueryRowContext(ctx, `
		select amount::text from balance_checkpoints
		where holder = $1 and block <= $2
		order by block desc limit 1
	`, hexAddr(holder), block))
}

func scanBalance(row *sql.Row) (*uint256.Int, error) {
	var raw string
	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseNumeric(raw)
}

func setBalance(ctx context.Context, q querier, holder common.Address, block uint64, amount *uint256.Int) error {
	_, err := q.ExecContext(ctx, `
		insert into balance_checkpoints(holder, block, amount)
		values ($1, $2, $3::numeric)
		on conflict (holder, block) do update set amount = excluded.amount
	`, hexAddr(holder), block, amount.Dec())
	return err
}

// Ids above math.MaxInt64 do not fit a bigint column and cannot exist.
func getDistribution(ctx context.Context, q querier, id uint64) (ledger.Distribution, error) {
	if id > math.MaxInt64 {
		return ledger.Distribution{}, ledger.ErrNotFound
	}
	row := q.QueryRowContext(ctx, `
		select id, total_amount::text, distribution_date, distribution_block, tokens_excluding_owner::text
		from distributions where id = $1
	`, id)
	d, err := scanDistribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Distribution{}, ledger.ErrNotFound
	}
	return d, err
}

func hasClaimed(ctx context.Context, q querier, id uint64, holder common.Address) (bool, error) {
	if id > math.MaxInt64 {
		return false, nil
	}
	var ok bool
	err := q.QueryRowContext(ctx, `
		select exists(select 1 from claims where distribution_id = $1 and holder = $2)
	`, id, hexAddr(holder)).Scan(&ok)
	return ok, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDistribution(row scanner) (ledger.Distribution, error) {
	var d ledger.Distribution
	var total, excl string
	if err := row.Scan(&d.ID, &total, &d.DistributionDate, &d.DistributionBlock, &excl); err != nil {
		return ledger.Distribution{}, err
	}
	var err error
	if d.TotalAmount, err = parseNumeric(total); err != nil {
		return ledger.Distribution{}, err
	}
	if d.TokensExcludingOwner, err = parseNumeric(excl); err != nil {
		return ledger.Distribution{}, err
	}
	d.DistributionDate = d.DistributionDate.UTC()
	return d, nil
}

func parseNumeric(raw string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("pg: numeric %q: %w", raw, err)
	}
	return v, nil
}

func hexAddr(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgErrSerializationFailure || pgErr.Code == pgErrDeadlockDetected
}
