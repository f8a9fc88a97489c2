// Package srp implements the SRP-6a Auth + Session Store (§4.10): the
// server side of a password-authenticated key exchange, plus a resumable
// session store keyed by the derived session id.
package srp

import "math/big"

// group2048 is RFC 5054's 2048-bit SRP group.
var (
	groupN, _ = new(big.Int).SetString(""+
		"AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050A37329CBB4A"+
		"099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50E8083969EDB767B0CF6095"+
		"179A163AB3661A05FBD5FAAAE82918A9962F0B93B855F97993EC975EEAA80D740ADBF4FF747"+
		"359D041D5C33EA71D281E446B14773BCA97B43A23FB801676BD207A436C6481F1D2B9078717"+
		"461A5B9D32E688F87748544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB37861602790"+
		"04E57AE6AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB694B5"+
		"C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73", 16)
	groupG = big.NewInt(2)
)

// Group returns the shared (N, g) pair used by every SRP session.
func Group() (n, g *big.Int) {
	return new(big.Int).Set(groupN), new(big.Int).Set(groupG)
}
