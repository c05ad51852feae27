package notebook

import "math/rand"

// Notebook names default to adjective_scientist pairs so fresh
// notebooks are distinguishable without user input.

var nameAdjectives = []string{
	"admiring", "bold", "brave", "clever", "curious", "eager",
	"elated", "festive", "gracious", "happy", "jolly", "keen",
	"lucid", "mellow", "nifty", "patient", "quirky", "serene",
	"tender", "vivid", "wise", "zealous",
}

var nameSurnames = []string{
	"agnesi", "babbage", "curie", "darwin", "euler", "franklin",
	"galileo", "hopper", "hypatia", "kepler", "lovelace", "mestorf",
	"noether", "pasteur", "ramanujan", "sagan", "turing", "wozniak",
}

func generateName() string {
	adj := nameAdjectives[rand.Intn(len(nameAdjectives))]
	sur := nameSurnames[rand.Intn(len(nameSurnames))]
	return adj + "_" + sur
}
