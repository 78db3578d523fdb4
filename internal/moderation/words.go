package moderation

// baseTerms is the compiled-in abuse lexicon. Operators extend it with a word
// list file, one term per line.
var baseTerms = []string{
	// English
	"fuck",
	"fucker",
	"fucking",
	"motherfucker",
	"shit",
	"bullshit",
	"bitch",
	"bastard",
	"ass",
	"asshole",
	"dick",
	"dickhead",
	"cunt",
	"slut",
	"whore",
	"retard",
	"wanker",
	"prick",
	"douchebag",
	"son of a bitch",
	"kill yourself",
	"go die",

	// Hinglish
	"madarchod",
	"behenchod",
	"bhenchod",
	"chutiya",
	"chutiye",
	"gandu",
	"randi",
	"harami",
	"bhosdike",
	"bhosdiwala",
	"lodu",
	"lauda",
	"kutta",
	"kamina",
	"teri maa ki",
}
