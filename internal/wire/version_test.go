package wire

import "testing"

func TestVersionCompatibleMatchingMajorMinor(t *testing.T) {
	if !VersionCompatible(3, 1, 3, 1) {
		t.Error("expected matching (major, minor) to be compatible")
	}
}

func TestVersionCompatibleIgnoresPatch(t *testing.T) {
	if !VersionCompatible(3, 1, 3, 1) {
		t.Error("expected patch to be irrelevant to compatibility")
	}
}

func TestVersionCompatibleMismatchedMinor(t *testing.T) {
	if VersionCompatible(3, 2, 3, 1) {
		t.Error("expected mismatched minor to be incompatible")
	}
}

func TestVersionCompatibleUnknownServerAccepted(t *testing.T) {
	if !VersionCompatible(0, 0, 3, 1) {
		t.Error("expected 0.0.x server version to be treated as unknown and accepted")
	}
}

func TestVersionCompatibleMismatchedMajor(t *testing.T) {
	if VersionCompatible(4, 1, 3, 1) {
		t.Error("expected mismatched major to be incompatible")
	}
}
