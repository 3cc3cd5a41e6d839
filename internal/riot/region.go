package riot

import "fmt"

// Region is the (region, shard) pair resolved from the id token. It is
// immutable once resolved and determines the persistent-data server and
// the chat (XMPP) host for the session.
type Region struct {
	Region string
	Shard  string
}

// PDServerURL returns the persistent-data API base URL for the region.
func (r Region) PDServerURL() string {
	return fmt.Sprintf("https://pd.%s.a.pvp.net", r.Region)
}

// ChatAffinity returns the chat affinity key used to resolve the XMPP host.
func (r Region) ChatAffinity() string {
	if aff, ok := chatAffinities[r.Region]; ok {
		return aff
	}
	return r.Region
}

// ChatHost returns the XMPP chat server hostname for the region.
func (r Region) ChatHost() string {
	if host, ok := chatHosts[r.ChatAffinity()]; ok {
		return host
	}
	// Fall back to the affinity-derived name; unknown regions still get a
	// syntactically valid host instead of an empty string.
	return r.ChatAffinity() + ".chat.si.riotgames.com"
}

// regions maps the live affinity value from the geo endpoint to a region pair.
var regions = map[string]Region{
	"ap":    {Region: "ap", Shard: "ap"},
	"br":    {Region: "br", Shard: "na"},
	"eu":    {Region: "eu", Shard: "eu"},
	"kr":    {Region: "kr", Shard: "kr"},
	"latam": {Region: "latam", Shard: "na"},
	"na":    {Region: "na", Shard: "na"},
}

// chatAffinities maps region codes to chat affinity keys.
var chatAffinities = map[string]string{
	"as2":    "as2",
	"asia":   "jp1",
	"br1":    "br1",
	"br":     "br1",
	"eu":     "ru1",
	"eu3":    "eu3",
	"eun1":   "eu2",
	"euw1":   "eu1",
	"jp1":    "jp1",
	"kr1":    "kr1",
	"kr":     "kr1",
	"la1":    "la1",
	"la2":    "la2",
	"latam":  "la1",
	"na1":    "na1",
	"na":     "na1",
	"ap":     "as2",
	"oc1":    "oc1",
	"pbe1":   "pb1",
	"ru1":    "ru1",
	"sea1":   "sa1",
	"sea2":   "sa2",
	"sea3":   "sa3",
	"sea4":   "sa4",
	"tr1":    "tr1",
	"us":     "la1",
	"us-br1": "br1",
	"us-la2": "la2",
	"us2":    "us2",
}

// chatHosts maps chat affinity keys to XMPP server hostnames.
var chatHosts = map[string]string{
	"as2": "as2.chat.si.riotgames.com",
	"br1": "br.chat.si.riotgames.com",
	"eu1": "euw1.chat.si.riotgames.com",
	"eu2": "eun1.chat.si.riotgames.com",
	"eu3": "eu3.chat.si.riotgames.com",
	"jp1": "jp1.chat.si.riotgames.com",
	"kr1": "kr1.chat.si.riotgames.com",
	"la1": "la1.chat.si.riotgames.com",
	"la2": "la2.chat.si.riotgames.com",
	"na1": "na2.chat.si.riotgames.com",
	"oc1": "oc1.chat.si.riotgames.com",
	"pb1": "pbe1.chat.si.riotgames.com",
	"ru1": "ru1.chat.si.riotgames.com",
	"sa1": "sa1.chat.si.riotgames.com",
	"sa2": "sa2.chat.si.riotgames.com",
	"sa3": "sa3.chat.si.riotgames.com",
	"sa4": "sa4.chat.si.riotgames.com",
	"tr1": "tr1.chat.si.riotgames.com",
	"us2": "us2.chat.si.riotgames.com",
}

// RegionFromAffinity resolves a live affinity value to a Region.
func RegionFromAffinity(affinity string) (Region, error) {
	region, ok := regions[affinity]
	if !ok {
		return Region{}, fmt.Errorf("unknown region affinity %q", affinity)
	}
	return region, nil
}
