package config

import "github.com/timgates42/mako/pkg/util"

// Checkpoint is a hard-coded (height, hash) pair. During the initial
// sync the node refuses header chains that disagree with these.
type Checkpoint struct {
	Height uint32       `yaml:"Height"`
	Hash   util.Uint256 `yaml:"Hash"`
}

func mustHash(s string) util.Uint256 {
	h, err := util.Uint256DecodeReverseString(s)
	if err != nil {
		panic(err)
	}
	return h
}

var mainNetCheckpoints = []Checkpoint{
	{11111, mustHash("0000000069e244f73d78e8fd29ba2fd2ed618bd6fa2ee92559f542fdb26e7c1d")},
	{33333, mustHash("000000002dd5588a74784eaa7ab0507a18ad16a236e7b1ce69f00d7ddfb5d0a6")},
	{74000, mustHash("0000000000573993a3c9e41ce34471c079dcf5f52a0e824a81e7f953b8661a20")},
	{105000, mustHash("00000000000291ce28027faea320c8d2b054b2e0fe44a773f3eefb151d6bdc97")},
	{134444, mustHash("00000000000005b12ffd4cd315cd34ffd4a594f430ac814c91184a0d42d2b0fe")},
	{168000, mustHash("000000000000099e61ea72015e79632f216fe6cb33d7899acb35b75c8303b763")},
	{193000, mustHash("000000000000059f452a5f7340de6682a977387c17010ff6e6c3bd83ca8b1317")},
	{210000, mustHash("000000000000048b95347e83192f69cf0366076336c639f9b7228e9ba171342e")},
	{216116, mustHash("00000000000001b4f4b433e81ee46494af945cf96014816a4e2370f11b23df4e")},
	{225430, mustHash("00000000000001c108384350f74090433e7fcf79a606b8e797f065b130575932")},
	{250000, mustHash("000000000000003887df1f29024b06fc2200b55f8af8f35453d7be294df2d214")},
}

var testNetCheckpoints = []Checkpoint{
	{546, mustHash("000000002a936ca763904c3c35fce2f3556c559c0214345d31b1bcebf76acb70")},
}

// Checkpoints returns the checkpoint table for the network, ordered by
// ascending height. Networks without hard-coded checkpoints return nil.
func (n NetMode) Checkpoints() []Checkpoint {
	switch n {
	case ModeMainNet:
		return mainNetCheckpoints
	case ModeTestNet:
		return testNetCheckpoints
	default:
		return nil
	}
}

// LastCheckpoint returns the highest checkpoint of the network and true,
// or a zero value and false if the network has none.
func (n NetMode) LastCheckpoint() (Checkpoint, bool) {
	cps := n.Checkpoints()
	if len(cps) == 0 {
		return Checkpoint{}, false
	}
	return cps[len(cps)-1], true
}
