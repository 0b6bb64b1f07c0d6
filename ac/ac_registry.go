package ac

import (
	"sort"

	"golang.org/x/exp/maps"
)

// Owns every AC of a client. Entities are created on first access and live for the
// lifetime of the registry; a disconnect only marks them unregistered.
type ACRegistry struct {
	sender Sender
	pt     *PtClient

	acs map[string]*AC
}

func NewACRegistry(sender Sender, pt *PtClient) *ACRegistry {
	return &ACRegistry{
		sender: sender,
		pt:     pt,
		acs:    map[string]*AC{},
	}
}

func (self *ACRegistry) GetOrCreate(id string) *AC {
	if acn, ok := self.acs[id]; ok {
		return acn
	}
	acn := NewAC(id, self.sender, self.pt)
	self.acs[id] = acn
	return acn
}

func (self *ACRegistry) Get(id string) (*AC, bool) {
	acn, ok := self.acs[id]
	return acn, ok
}

// ordered by id, so that hooks run in a stable order
func (self *ACRegistry) All() []*AC {
	ids := maps.Keys(self.acs)
	sort.Strings(ids)
	acs := make([]*AC, 0, len(ids))
	for _, id := range ids {
		acs = append(acs, self.acs[id])
	}
	return acs
}

func (self *ACRegistry) Len() int {
	return len(self.acs)
}

func (self *ACRegistry) connect() {
	for _, acn := range self.All() {
		HandleError("ac connect", acn.connect)
	}
}

func (self *ACRegistry) disconnect() {
	for _, acn := range self.All() {
		HandleError("ac disconnect", acn.disconnect)
	}
}

func (self *ACRegistry) update() {
	for _, acn := range self.All() {
		HandleError("ac update", acn.update)
	}
}

func (self *ACRegistry) onMessage(message Message) error {
	return self.GetOrCreate(message.Field(2)).onMessage(message)
}
