package detect

// noopInspect is the placeholder callback used by the built-in
// registrations: the concrete per-keyword match routines are external
// collaborators the core never implements.
func noopInspect(*ThreadContext, uint32) error { return nil }

// builtinEntry describes one row of the default registration table.
type builtinEntry struct {
	ipproto IPProto
	alproto ALProto
	dir     Direction
	smList  SMList
	flags   uint32
}

// toServerBuiltins is the default to-server registration set.
func toServerBuiltins() []builtinEntry {
	return []builtinEntry{
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListURI, 1 << 0},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListRequestLine, 1 << 1},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListClientBody, 1 << 2},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListHeaders, 1 << 3},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListRawHeaders, 1 << 4},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListMethod, 1 << 5},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListCookie, 1 << 6},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListRawURI, 1 << 7},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListFile, 1 << 8},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListUserAgent, 1 << 9},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListHostHeader, 1 << 10},
		{IPProtoTCP, ALProtoHTTP, DirToServer, SMListRawHostHeader, 1 << 11},

		{IPProtoTCP, ALProtoDNS, DirToServer, SMListQueryName, 1 << 0},
		{IPProtoUDP, ALProtoDNS, DirToServer, SMListQueryName, 1 << 0},

		{IPProtoTCP, ALProtoSMTP, DirToServer, SMListFile, 1 << 0},
		{IPProtoTCP, ALProtoSMTP, DirToServer, SMListFileData, 1 << 1},

		{IPProtoTCP, ALProtoModbus, DirToServer, SMListModbusMatch, 1 << 0},
	}
}

// toClientBuiltins is the default to-client registration set. The Modbus
// entry's direction field is 0 (to-server) while being part of the
// to-client set, faithfully matching the engine this table was lifted
// from; kept as-is rather than silently corrected.
func toClientBuiltins() []builtinEntry {
	return []builtinEntry{
		{IPProtoTCP, ALProtoHTTP, DirToClient, SMListFileData, 1 << 0},
		{IPProtoTCP, ALProtoHTTP, DirToClient, SMListHeaders, 1 << 1},
		{IPProtoTCP, ALProtoHTTP, DirToClient, SMListRawHeaders, 1 << 2},
		{IPProtoTCP, ALProtoHTTP, DirToClient, SMListCookie, 1 << 3},
		{IPProtoTCP, ALProtoHTTP, DirToClient, SMListFile, 1 << 4},
		{IPProtoTCP, ALProtoHTTP, DirToClient, SMListStatMsg, 1 << 5},
		{IPProtoTCP, ALProtoHTTP, DirToClient, SMListStatCode, 1 << 6},

		{IPProtoTCP, ALProtoModbus, DirToServer, SMListModbusMatch, 1 << 7},
	}
}

// RegisterBuiltins populates r with the default to-server and to-client
// chains for HTTP, DNS, SMTP and Modbus. It is meant to be
// called once per process (or once per AppInspectionRegistry instance in
// tests); every registration is validated exactly like a caller-supplied
// one and panics on a configuration error, since a malformed built-in
// table is a programmer error, not a runtime condition.
func RegisterBuiltins(r *AppInspectionRegistry) {
	for _, e := range toServerBuiltins() {
		if err := r.Register(e.ipproto, e.alproto, e.dir, e.smList, e.flags, noopInspect); err != nil {
			panic("detect: built-in to-server registration failed: " + err.Error())
		}
	}
	for _, e := range toClientBuiltins() {
		if err := r.Register(e.ipproto, e.alproto, e.dir, e.smList, e.flags, noopInspect); err != nil {
			panic("detect: built-in to-client registration failed: " + err.Error())
		}
	}
}
