package redis

import "fmt"

type keyspace struct {
	prefix string
}

func (k keyspace) instance() string {
	return k.prefix + ":instance"
}

func (k keyspace) packageIndex() string {
	return k.prefix + ":packages"
}

func (k keyspace) pkg(id uint32) string {
	return fmt.Sprintf("%s:package:%d", k.prefix, id)
}

func (k keyspace) session(owner string) string {
	return fmt.Sprintf("%s:session:%s", k.prefix, owner)
}

func (k keyspace) order(id uint64) string {
	return fmt.Sprintf("%s:order:%d", k.prefix, id)
}

func (k keyspace) ownerOrders(owner string) string {
	return fmt.Sprintf("%s:orders:owner:%s", k.prefix, owner)
}

// balance and consumed carry the length of their first component, so
// identities containing ':' cannot collide.
func (k keyspace) balance(asset, holder string) string {
	return fmt.Sprintf("%s:balance:%d:%s:%s", k.prefix, len(asset), asset, holder)
}

func (k keyspace) consumed(subject, id string) string {
	return fmt.Sprintf("%s:consumed:%d:%s:%s", k.prefix, len(subject), subject, id)
}
