package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/goodtune/accesstime/internal/storage"
	"github.com/redis/go-redis/v9"
)

// redisTx reads through cmd and buffers writes until flush. When rtx is
// nil the transaction is read-only.
type redisTx struct {
	ctx     context.Context
	cmd     redis.Cmdable
	rtx     *redis.Tx
	keys    keyspace
	watched map[string]bool

	instance *storage.Instance
	packages map[uint32]storage.Package
	sessions map[string]storage.Session
	orders   map[uint64]storage.Order
	balances map[string]balanceWrite
	consumed map[string]storage.ConsumedEntry
}

type balanceWrite struct {
	asset  string
	holder string
	amount int64
}

func newTx(ctx context.Context, cmd redis.Cmdable, rtx *redis.Tx, keys keyspace) *redisTx {
	return &redisTx{
		ctx:      ctx,
		cmd:      cmd,
		rtx:      rtx,
		keys:     keys,
		watched:  make(map[string]bool),
		packages: make(map[uint32]storage.Package),
		sessions: make(map[string]storage.Session),
		orders:   make(map[uint64]storage.Order),
		balances: make(map[string]balanceWrite),
		consumed: make(map[string]storage.ConsumedEntry),
	}
}

func (t *redisTx) Instance() storage.InstanceStore { return (*instanceStore)(t) }
func (t *redisTx) Packages() storage.PackageStore   { return (*packageStore)(t) }
func (t *redisTx) Sessions() storage.SessionStore   { return (*sessionStore)(t) }
func (t *redisTx) Orders() storage.OrderStore       { return (*orderStore)(t) }
func (t *redisTx) Balances() storage.BalanceStore   { return (*balanceStore)(t) }
func (t *redisTx) ConsumedEntries() storage.ConsumedEntryStore {
	return (*consumedStore)(t)
}

// watch must run before the keys are read so that a concurrent write
// between the read and EXEC aborts the transaction.
func (t *redisTx) watch(keys ...string) error {
	if t.rtx == nil {
		return nil
	}
	pending := make([]string, 0, len(keys))
	for _, key := range keys {
		if !t.watched[key] {
			pending = append(pending, key)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if err := t.rtx.Watch(t.ctx, pending...).Err(); err != nil {
		return fmt.Errorf("watch keys: %w", err)
	}
	for _, key := range pending {
		t.watched[key] = true
	}
	return nil
}

func (t *redisTx) writable() error {
	if t.rtx == nil {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *redisTx) dirty() bool {
	return t.instance != nil || len(t.packages) > 0 || len(t.sessions) > 0 ||
		len(t.orders) > 0 || len(t.balances) > 0 || len(t.consumed) > 0
}

func (t *redisTx) hash(key string) (map[string]string, error) {
	if err := t.watch(key); err != nil {
		return nil, err
	}
	data, err := t.cmd.HGetAll(t.ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (t *redisTx) indexIDs(key string) ([]uint64, error) {
	if err := t.watch(key); err != nil {
		return nil, err
	}
	members, err := t.cmd.ZRange(t.ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", key, err)
	}
	ids := make([]uint64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse index member %q: %w", member, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// flush queues every buffered write on the MULTI pipeline.
func (t *redisTx) flush(ctx context.Context, pipe redis.Pipeliner) {
	if t.instance != nil {
		pipe.HSet(ctx, t.keys.instance(), instanceFields(*t.instance))
	}
	for id, pkg := range t.packages {
		pipe.HSet(ctx, t.keys.pkg(id), packageFields(pkg))
		pipe.ZAdd(ctx, t.keys.packageIndex(), redis.Z{Score: float64(id), Member: strconv.FormatUint(uint64(id), 10)})
	}
	for owner, session := range t.sessions {
		pipe.HSet(ctx, t.keys.session(owner), sessionFields(session))
	}
	for id, order := range t.orders {
		pipe.HSet(ctx, t.keys.order(id), orderFields(order))
		pipe.ZAdd(ctx, t.keys.ownerOrders(order.Owner), redis.Z{Score: float64(id), Member: strconv.FormatUint(id, 10)})
	}
	for key, b := range t.balances {
		pipe.Set(ctx, key, strconv.FormatInt(b.amount, 10), 0)
	}
	for key, entry := range t.consumed {
		pipe.HSet(ctx, key, consumedFields(entry))
		pipe.ExpireAt(ctx, key, time.Unix(int64(entry.ExpiresAt), 0))
	}
}

type instanceStore redisTx

func (s *instanceStore) Get() (*storage.Instance, error) {
	t := (*redisTx)(s)
	if t.instance != nil {
		inst := *t.instance
		return &inst, nil
	}
	data, err := t.hash(t.keys.instance())
	if err != nil {
		return nil, err
	}
	return parseInstance(data)
}

func (s *instanceStore) Put(instance storage.Instance) error {
	t := (*redisTx)(s)
	if err := t.writable(); err != nil {
		return err
	}
	t.instance = &instance
	return nil
}

type packageStore redisTx

func (s *packageStore) Get(id uint32) (*storage.Package, error) {
	t := (*redisTx)(s)
	if pkg, ok := t.packages[id]; ok {
		return &pkg, nil
	}
	data, err := t.hash(t.keys.pkg(id))
	if err != nil {
		return nil, err
	}
	return parsePackage(data)
}

func (s *packageStore) List() ([]storage.Package, error) {
	t := (*redisTx)(s)
	ids, err := t.indexIDs(t.keys.packageIndex())
	if err != nil {
		return nil, err
	}

	seen := make(map[uint32]bool, len(ids))
	pkgs := make([]storage.Package, 0, len(ids)+len(t.packages))
	for _, raw := range ids {
		id := uint32(raw)
		seen[id] = true
		pkg, err := s.Get(id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, *pkg)
	}
	for id, pkg := range t.packages {
		if !seen[id] {
			pkgs = append(pkgs, pkg)
		}
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].ID < pkgs[j].ID })
	return pkgs, nil
}

func (s *packageStore) Put(pkg storage.Package) error {
	t := (*redisTx)(s)
	if err := t.writable(); err != nil {
		return err
	}
	t.packages[pkg.ID] = pkg
	return nil
}

type sessionStore redisTx

func (s *sessionStore) Get(owner string) (*storage.Session, error) {
	t := (*redisTx)(s)
	if session, ok := t.sessions[owner]; ok {
		return &session, nil
	}
	data, err := t.hash(t.keys.session(owner))
	if err != nil {
		return nil, err
	}
	return parseSession(data)
}

func (s *sessionStore) Put(session storage.Session) error {
	t := (*redisTx)(s)
	if err := t.writable(); err != nil {
		return err
	}
	if session.Owner == "" {
		return fmt.Errorf("session owner is required")
	}
	t.sessions[session.Owner] = session
	return nil
}

type orderStore redisTx

func (s *orderStore) Get(id uint64) (*storage.Order, error) {
	t := (*redisTx)(s)
	if order, ok := t.orders[id]; ok {
		return &order, nil
	}
	data, err := t.hash(t.keys.order(id))
	if err != nil {
		return nil, err
	}
	return parseOrder(data)
}

func (s *orderStore) ListByOwner(owner string) ([]storage.Order, error) {
	t := (*redisTx)(s)
	ids, err := t.indexIDs(t.keys.ownerOrders(owner))
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]bool, len(ids))
	orders := make([]storage.Order, 0, len(ids))
	for _, id := range ids {
		seen[id] = true
		order, err := s.Get(id)
		if err != nil {
			return nil, fmt.Errorf("load indexed order %d: %w", id, err)
		}
		orders = append(orders, *order)
	}
	for id, order := range t.orders {
		if order.Owner == owner && !seen[id] {
			orders = append(orders, order)
		}
	}

	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (s *orderStore) Put(order storage.Order) error {
	t := (*redisTx)(s)
	if err := t.writable(); err != nil {
		return err
	}
	t.orders[order.ID] = order
	return nil
}

type balanceStore redisTx

func (s *balanceStore) Get(asset, holder string) (int64, error) {
	t := (*redisTx)(s)
	key := t.keys.balance(asset, holder)
	if b, ok := t.balances[key]; ok {
		return b.amount, nil
	}
	if err := t.watch(key); err != nil {
		return 0, err
	}
	value, err := t.cmd.Get(t.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	amount, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %s: %w", key, err)
	}
	return amount, nil
}

func (s *balanceStore) Put(asset, holder string, amount int64) error {
	t := (*redisTx)(s)
	if err := t.writable(); err != nil {
		return err
	}
	t.balances[t.keys.balance(asset, holder)] = balanceWrite{asset: asset, holder: holder, amount: amount}
	return nil
}

type consumedStore redisTx

func (s *consumedStore) Get(subject, id string) (*storage.ConsumedEntry, error) {
	t := (*redisTx)(s)
	key := t.keys.consumed(subject, id)
	if entry, ok := t.consumed[key]; ok {
		return &entry, nil
	}
	data, err := t.hash(key)
	if err != nil {
		return nil, err
	}
	return parseConsumed(data)
}

func (s *consumedStore) Put(entry storage.ConsumedEntry) error {
	t := (*redisTx)(s)
	if err := t.writable(); err != nil {
		return err
	}
	t.consumed[t.keys.consumed(entry.Subject, entry.ID)] = entry
	return nil
}

// Prune is a no-op: consumed entries carry EXPIREAT and Redis drops them.
func (s *consumedStore) Prune(now uint64) (int, error) {
	if err := (*redisTx)(s).writable(); err != nil {
		return 0, err
	}
	return 0, nil
}
