package chat

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/pazarglobal/assistant/internal/llm"
	"github.com/pazarglobal/assistant/internal/session"
)

// affirmWords and denyWords resolve a pending confirmation without touching
// the classification capability.
var affirmWords = map[string]struct{}{
	"evet": {}, "onayla": {}, "onaylıyorum": {}, "onayliyorum": {}, "tamam": {},
	"olur": {}, "yes": {}, "confirm": {}, "ok": {}, "okey": {},
}

var denyWords = map[string]struct{}{
	"hayır": {}, "hayir": {}, "no": {}, "iptal": {}, "vazgeç": {}, "vazgec": {},
	"vazgeçtim": {}, "vazgectim": {}, "boşver": {}, "bosver": {}, "istemiyorum": {},
}

const routerSystemPrompt = `Sen PazarGlobal pazaryeri asistanının niyet yönlendiricisisin.
Kullanıcı mesajını aşağıdaki niyetlerden TAM OLARAK birine sınıflandır:
  create_listing: yeni ilan oluşturmak veya ürün satmak istiyor
  edit_listing: mevcut taslağı düzenlemek istiyor (başlık, fiyat, açıklama değişikliği)
  publish: taslağı yayınlamak istiyor
  delete: taslağı/ilanı silmek istiyor
  search_listings: ilan aramak veya ürünlere göz atmak istiyor
  small_talk: sohbet, platform soruları veya belirsiz mesajlar

SADECE şu biçimde geçerli JSON döndür, başka hiçbir şey yazma:
{"intent": "...", "confidence": "high|medium|low"}`

// Router classifies incoming messages over the closed intent set.
type Router struct {
	llm    llm.Provider
	logger *log.Logger
}

func NewRouter(provider llm.Provider, logger *log.Logger) *Router {
	return &Router{llm: provider, logger: logger}
}

// Classify resolves the message to an intent. Structural signals are checked
// first: a pending confirmation is matched against the affirm/deny lexicon
// before any delegation. Classification failures degrade to unknown, never
// fail the request. Read-only with respect to shared state.
func (r *Router) Classify(ctx context.Context, message string, history []session.Message, state SessionState) Intent {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.Trim(normalized, "!.?,")

	if state.PendingConfirmation {
		if _, ok := affirmWords[normalized]; ok {
			return IntentConfirm
		}
		if _, ok := denyWords[normalized]; ok {
			return IntentDeny
		}
	}

	prompt := buildClassifyPrompt(message, history, state)
	out, err := r.llm.Generate(ctx, routerSystemPrompt, prompt)
	if err != nil {
		r.logger.Printf("intent classification failed, degrading to unknown: %v", err)
		return IntentUnknown
	}

	var parsed struct {
		Intent     string `json:"intent"`
		Confidence string `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(out)), &parsed); err != nil {
		r.logger.Printf("intent response unparseable, degrading to unknown: %v", err)
		return IntentUnknown
	}
	if parsed.Confidence == "low" {
		return IntentUnknown
	}

	intent := Intent(parsed.Intent)
	switch intent {
	case IntentCreateListing, IntentPublish, IntentDelete, IntentSearchListings, IntentSmallTalk:
		return intent
	case IntentEditListing:
		// Editing without a draft means starting one.
		if !state.HasActiveDraft {
			return IntentCreateListing
		}
		return intent
	default:
		return IntentUnknown
	}
}

func buildClassifyPrompt(message string, history []session.Message, state SessionState) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Önceki mesajlar:\n")
		for _, m := range history {
			b.WriteString(m.Role)
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if state.HasActiveDraft {
		b.WriteString("Oturumda aktif bir ilan taslağı var.\n")
	}
	b.WriteString("Mesaj: ")
	b.WriteString(message)
	return b.String()
}

// extractJSON pulls the first JSON object out of a model response that may
// wrap it in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
