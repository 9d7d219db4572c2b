package story

import "math/rand"

var twists = []string{
	"Suddenly, aliens invaded...",
	"Without warning, everyone turned into llamas...",
	"The ground began to shake and...",
	"A mysterious portal opened and...",
	"Time started flowing backwards and...",
	"A character revealed a hidden superpower...",
	"The entire setting transformed into a jungle...",
	"A long-lost twin suddenly appeared...",
	"All technology mysteriously stopped working...",
	"A talking animal offered cryptic advice...",
	"They discovered it was all a dream, or was it...",
	"A secret society revealed their presence...",
	"The main villain turned out to be an ally...",
	"A forgotten prophecy started coming true...",
	"Gravity briefly reversed itself, causing chaos...",
}

// Twist returns a random plot-twist prompt to nudge the next contributor.
func Twist() string {
	return twists[rand.Intn(len(twists))]
}
