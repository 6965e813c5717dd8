package detect

import (
	"reflect"
	"sync"
)

// IPProto is the transport protocol a registration applies to.
type IPProto int

const (
	IPProtoTCP IPProto = iota
	IPProtoUDP
)

// ALProto is an application-layer protocol id. The sentinel bounds
// (Unknown, Failed) delimit the range of protocols a registration may name.
type ALProto int

const (
	ALProtoUnknown ALProto = iota
	ALProtoHTTP
	ALProtoDNS
	ALProtoSMTP
	ALProtoModbus
	alProtoMax // keep last
	ALProtoFailed ALProto = alProtoMax + 1
)

// Direction is 0 for client->server (to-server), 1 for server->client
// (to-client).
type Direction int

const (
	DirToServer Direction = 0
	DirToClient Direction = 1
)

// SMList identifiers name which part of a signature a registered callback
// inspects. The concrete values don't matter to this package beyond
// uniqueness within a chain; they mirror DETECT_SM_LIST_* names from the
// original engine.
type SMList int

const (
	SMListMatch SMList = iota
	SMListURI
	SMListRequestLine
	SMListClientBody
	SMListHeaders
	SMListRawHeaders
	SMListMethod
	SMListCookie
	SMListRawURI
	SMListFile
	SMListUserAgent
	SMListHostHeader
	SMListRawHostHeader
	SMListFileData
	SMListStatMsg
	SMListStatCode
	SMListQueryName
	SMListModbusMatch
	smListMax // keep last
)

// InspectCallback is the registered inspection routine; the core never
// calls into it beyond storing and returning it. The match routines
// themselves live with the per-protocol inspection engines.
type InspectCallback func(ctx *ThreadContext, flags uint32) error

// AppInspectionEntry is one node in an (ipproto, alproto, direction) chain.
type AppInspectionEntry struct {
	IPProto      IPProto
	ALProto      ALProto
	Direction    Direction
	SMList       SMList
	InspectFlags uint32
	Callback     InspectCallback
	next         *AppInspectionEntry
}

// flowProtoMapping maps the transport protocol onto the first table
// dimension, mirroring the original engine's FlowProtoMapping.
func flowProtoMapping(p IPProto) int {
	switch p {
	case IPProtoTCP:
		return 0
	case IPProtoUDP:
		return 1
	default:
		return 0
	}
}

// AppInspectionRegistry is a three-dimensional table indexed by
// flowProtoMapping(ipproto), alproto and direction; each cell holds the
// head of a singly-linked chain of AppInspectionEntry.
type AppInspectionRegistry struct {
	mu    sync.Mutex
	table [2][alProtoMax][2]*AppInspectionEntry
}

// NewAppInspectionRegistry returns an empty registry.
func NewAppInspectionRegistry() *AppInspectionRegistry {
	return &AppInspectionRegistry{}
}

// Register validates and appends a new entry to the
// (ipproto, alproto, dir) chain:
//   - fatal configuration error on invalid arguments
//   - no-op if an entry with the same (sm_list, callback) already exists
//   - fatal duplicate-registration error if an entry shares sm_list or
//     inspect_flags without being that idempotent case
//   - otherwise append at the tail
func (r *AppInspectionRegistry) Register(ipproto IPProto, alproto ALProto, dir Direction, smList SMList, inspectFlags uint32, cb InspectCallback) error {
	if alproto <= ALProtoUnknown || alproto >= ALProtoFailed {
		return ErrInvalidRegistration
	}
	if dir != DirToServer && dir != DirToClient {
		return ErrInvalidRegistration
	}
	if smList < SMListMatch || smList >= smListMax {
		return ErrInvalidRegistration
	}
	if cb == nil {
		return ErrInvalidRegistration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	head := r.table[flowProtoMapping(ipproto)][alproto][dir]

	for e := head; e != nil; e = e.next {
		if e.SMList == smList && funcsEqual(e.Callback, cb) {
			return nil // idempotent re-registration
		}
	}
	for e := head; e != nil; e = e.next {
		if e.SMList == smList || e.InspectFlags == inspectFlags {
			return ErrDuplicateRegistration
		}
	}

	entry := &AppInspectionEntry{
		IPProto:      ipproto,
		ALProto:      alproto,
		Direction:    dir,
		SMList:       smList,
		InspectFlags: inspectFlags,
		Callback:     cb,
	}

	if head == nil {
		r.table[flowProtoMapping(ipproto)][alproto][dir] = entry
		return nil
	}
	tail := head
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = entry
	return nil
}

// Chain returns the head of the (ipproto, alproto, dir) chain, or nil.
func (r *AppInspectionRegistry) Chain(ipproto IPProto, alproto ALProto, dir Direction) *AppInspectionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alproto < 0 || alproto >= alProtoMax {
		return nil
	}
	return r.table[flowProtoMapping(ipproto)][alproto][dir]
}

// funcsEqual compares two InspectCallback values for identity. Go function
// values are not comparable with ==, so this compares the underlying code
// pointer via reflect, which is what the original engine's pointer-equality
// check on a C function pointer models.
func funcsEqual(a, b InspectCallback) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
