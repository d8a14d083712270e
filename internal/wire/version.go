package wire

// VersionCompatible implements the server compatibility rule: the client
// accepts a server whose (major, minor) matches its own, ignoring patch;
// a server reporting 0.0.x is treated as unknown and always accepted.
func VersionCompatible(serverMajor, serverMinor, localMajor, localMinor uint8) bool {
	if serverMajor == 0 && serverMinor == 0 {
		return true
	}
	return serverMajor == localMajor && serverMinor == localMinor
}
