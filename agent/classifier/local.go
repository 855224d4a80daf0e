package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	contractx "github.com/tanpawarit/echobot/agent/contract"
)

// Example is one labelled training utterance.
type Example struct {
	Text   string
	Intent string
}

// DefaultExamples seeds the local classifier.
var DefaultExamples = []Example{
	{"what is the weather", "weather"},
	{"how is the weather in London", "weather"},
	{"is it raining", "weather"},
	{"weather in Toledo", "weather"},
	{"what's the weather like in New York", "weather"},
	{"check weather for Paris", "weather"},
	{"current temperature in Tokyo", "weather"},
	{"forecast for tomorrow", "weather"},
	{"is it sunny outside", "weather"},
	{"do I need an umbrella", "weather"},
	{"search for python tutorials", "search"},
	{"google latest news", "search"},
	{"who is Elon Musk", "wikipedia"},
	{"tell me about quantum physics", "wikipedia"},
	{"set a reminder", "reminder_set"},
	{"remind me to buy milk", "reminder_set"},
	{"list my reminders", "reminder_list"},
	{"delete my reminders", "reminder_delete"},
	{"what time is it", "time"},
	{"what is the date", "date"},
	{"calculate 5 plus 5", "calculate"},
	{"what is 10 times 10", "calculate"},
	{"help me", "help"},
	{"what can you do", "help"},
	{"let's chat", "chat"},
	{"tell me a joke", "chat"},
	{"how are you", "chat"},
	{"good morning", "chat"},
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "it": true, "of": true, "to": true, "please": true,
}

// sharpness scales cosine scores before the softmax; higher means more decisive.
const sharpness = 8.0

// Local is an in-process TF-IDF classifier. Each intent is scored by its best
// cosine match among the training examples and scores are softmaxed into a
// confidence.
type Local struct {
	mu       sync.RWMutex
	examples []Example
	idf      map[string]float64
	vectors  []map[string]float64
	intents  []string
}

var _ contractx.IntentClassifier = (*Local)(nil)

func NewLocal(examples ...Example) *Local {
	if len(examples) == 0 {
		examples = DefaultExamples
	}
	l := &Local{examples: append([]Example(nil), examples...)}
	l.train()
	return l
}

// AddExample extends the training set and retrains.
func (l *Local) AddExample(text, intent string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.examples = append(l.examples, Example{Text: text, Intent: intent})
	l.trainLocked()
}

func (l *Local) Intents() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.intents...)
}

func (l *Local) train() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trainLocked()
}

func (l *Local) trainLocked() {
	df := map[string]int{}
	docs := make([][]string, len(l.examples))
	seen := map[string]bool{}
	l.intents = l.intents[:0]

	for i, ex := range l.examples {
		docs[i] = features(ex.Text)
		uniq := map[string]bool{}
		for _, f := range docs[i] {
			if !uniq[f] {
				uniq[f] = true
				df[f]++
			}
		}
		if !seen[ex.Intent] {
			seen[ex.Intent] = true
			l.intents = append(l.intents, ex.Intent)
		}
	}
	sort.Strings(l.intents)

	n := float64(len(l.examples))
	l.idf = make(map[string]float64, len(df))
	for f, c := range df {
		l.idf[f] = math.Log((1+n)/(1+float64(c))) + 1
	}

	l.vectors = make([]map[string]float64, len(docs))
	for i, doc := range docs {
		l.vectors[i] = l.vectorize(doc)
	}
}

func (l *Local) vectorize(feats []string) map[string]float64 {
	vec := map[string]float64{}
	for _, f := range feats {
		if w, ok := l.idf[f]; ok {
			vec[f] += w
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for f := range vec {
		vec[f] /= norm
	}
	return vec
}

func (l *Local) Predict(_ context.Context, text string) (string, float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.intents) == 0 {
		return "", 0, fmt.Errorf("%w: classifier has no training data", contractx.ErrClassification)
	}

	query := l.vectorize(features(text))
	best := make(map[string]float64, len(l.intents))
	for i, vec := range l.vectors {
		score := dot(query, vec)
		intent := l.examples[i].Intent
		if score > best[intent] {
			best[intent] = score
		}
	}

	var (
		sum     float64
		top     string
		topProb float64
	)
	probs := make(map[string]float64, len(l.intents))
	for _, intent := range l.intents {
		p := math.Exp(sharpness * best[intent])
		probs[intent] = p
		sum += p
	}
	for _, intent := range l.intents {
		p := probs[intent] / sum
		if p > topProb {
			top, topProb = intent, p
		}
	}
	return top, topProb, nil
}

func dot(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var s float64
	for k, v := range a {
		s += v * b[k]
	}
	return s
}

// features returns unigrams and bigrams of the normalized text.
func features(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	kept := words[:0]
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w == "" || stopWords[w] {
			continue
		}
		if isNumber(w) {
			w = "<num>"
		}
		kept = append(kept, w)
	}

	out := make([]string, 0, len(kept)*2)
	out = append(out, kept...)
	for i := 1; i < len(kept); i++ {
		out = append(out, kept[i-1]+" "+kept[i])
	}
	return out
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
