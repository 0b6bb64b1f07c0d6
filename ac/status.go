package ac

import (
	"fmt"
	"sync"
	"time"
)

// JSON view of a client, safe to read from any goroutine.
// The client loop refreshes it after every receive and tick.

type ACStatus struct {
	Id         string   `json:"id"`
	State      string   `json:"state"`
	Registered bool     `json:"registered"`
	Color      string   `json:"color"`
	StatusText []string `json:"status_text"`
}

type ClientStatus struct {
	Connection       string     `json:"connection"`
	Address          string     `json:"address"`
	ServerVersion    string     `json:"server_version,omitempty"`
	ACs              []ACStatus `json:"acs"`
	SubscribedBlocks []string   `json:"subscribed_blocks"`
	UpdateTime       time.Time  `json:"update_time"`
}

type statusHolder struct {
	stateLock sync.Mutex
	status    ClientStatus
}

func (self *statusHolder) get() ClientStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

func (self *statusHolder) set(status ClientStatus) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.status = status
}

func acStatus(acn *AC) ACStatus {
	return ACStatus{
		Id:         acn.Id(),
		State:      acn.State().String(),
		Registered: acn.Registered(),
		Color:      fmt.Sprintf("%06x", acn.Color()&0xFFFFFF),
		StatusText: acn.StatusText(),
	}
}
