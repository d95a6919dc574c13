package storage

// Meter counts record reads and writes made through a metered Tx.
type Meter struct {
	Reads  int
	Writes int
}

// Metered wraps tx so that every record access is counted in m.
func Metered(tx Tx, m *Meter) Tx {
	return &meteredTx{tx: tx, m: m}
}

type meteredTx struct {
	tx Tx
	m  *Meter
}

func (t *meteredTx) Instance() InstanceStore { return &meteredInstance{t.tx.Instance(), t.m} }
func (t *meteredTx) Packages() PackageStore  { return &meteredPackages{t.tx.Packages(), t.m} }
func (t *meteredTx) Sessions() SessionStore  { return &meteredSessions{t.tx.Sessions(), t.m} }
func (t *meteredTx) Orders() OrderStore      { return &meteredOrders{t.tx.Orders(), t.m} }
func (t *meteredTx) Balances() BalanceStore  { return &meteredBalances{t.tx.Balances(), t.m} }
func (t *meteredTx) ConsumedEntries() ConsumedEntryStore {
	return &meteredConsumed{t.tx.ConsumedEntries(), t.m}
}

// countList charges one read per returned record, and one for an empty scan.
func (m *Meter) countList(n int) {
	if n == 0 {
		n = 1
	}
	m.Reads += n
}

type meteredInstance struct {
	s InstanceStore
	m *Meter
}

func (s *meteredInstance) Get() (*Instance, error) {
	s.m.Reads++
	return s.s.Get()
}

func (s *meteredInstance) Put(instance Instance) error {
	s.m.Writes++
	return s.s.Put(instance)
}

type meteredPackages struct {
	s PackageStore
	m *Meter
}

func (s *meteredPackages) Get(id uint32) (*Package, error) {
	s.m.Reads++
	return s.s.Get(id)
}

func (s *meteredPackages) List() ([]Package, error) {
	pkgs, err := s.s.List()
	s.m.countList(len(pkgs))
	return pkgs, err
}

func (s *meteredPackages) Put(pkg Package) error {
	s.m.Writes++
	return s.s.Put(pkg)
}

type meteredSessions struct {
	s SessionStore
	m *Meter
}

func (s *meteredSessions) Get(owner string) (*Session, error) {
	s.m.Reads++
	return s.s.Get(owner)
}

func (s *meteredSessions) Put(session Session) error {
	s.m.Writes++
	return s.s.Put(session)
}

type meteredOrders struct {
	s OrderStore
	m *Meter
}

func (s *meteredOrders) Get(id uint64) (*Order, error) {
	s.m.Reads++
	return s.s.Get(id)
}

func (s *meteredOrders) ListByOwner(owner string) ([]Order, error) {
	orders, err := s.s.ListByOwner(owner)
	s.m.countList(len(orders))
	return orders, err
}

func (s *meteredOrders) Put(order Order) error {
	s.m.Writes++
	return s.s.Put(order)
}

type meteredBalances struct {
	s BalanceStore
	m *Meter
}

func (s *meteredBalances) Get(asset, holder string) (int64, error) {
	s.m.Reads++
	return s.s.Get(asset, holder)
}

func (s *meteredBalances) Put(asset, holder string, amount int64) error {
	s.m.Writes++
	return s.s.Put(asset, holder, amount)
}

type meteredConsumed struct {
	s ConsumedEntryStore
	m *Meter
}

func (s *meteredConsumed) Get(subject, id string) (*ConsumedEntry, error) {
	s.m.Reads++
	return s.s.Get(subject, id)
}

func (s *meteredConsumed) Put(entry ConsumedEntry) error {
	s.m.Writes++
	return s.s.Put(entry)
}

func (s *meteredConsumed) Prune(now uint64) (int, error) {
	n, err := s.s.Prune(now)
	s.m.Writes += n
	return n, err
}
