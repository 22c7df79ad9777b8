package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pazarglobal/assistant/internal/llm"
	"github.com/pazarglobal/assistant/internal/session"
)

// fieldPrompts instruct the model per field. Every prompt demands the same
// JSON envelope so parsing stays uniform: {"updated": bool, "value": "..."}
// (or "values" for images). updated=false is the explicit no-op.
var fieldPrompts = map[Field]string{
	FieldTitle: `Sen ilan oluşturma akışındaki Başlık ajanısın.
Kullanıcı mesajından ilan başlığını çıkar veya mevcut başlığı düzenle.
Kurallar: en fazla 100 karakter, kısa ve açıklayıcı, ürünün temel özelliklerini içersin, Türkçe yaz.
Mesajda başlığı etkileyen bir bilgi yoksa updated=false döndür.
SADECE JSON döndür: {"updated": true|false, "value": "..."}`,

	FieldDescription: `Sen ilan oluşturma akışındaki Açıklama ajanısın.
Kullanıcı mesajından ayrıntılı ama öz (200-500 karakter) bir ilan açıklaması üret veya mevcut açıklamayı düzenle.
Doğal ve dürüst bir dil kullan, varsa ürün durumunu belirt, Türkçe yaz.
Mesajda açıklamayı etkileyen bir bilgi yoksa updated=false döndür.
SADECE JSON döndür: {"updated": true|false, "value": "..."}`,

	FieldPrice: `Sen ilan oluşturma akışındaki Fiyat ajanısın.
Kullanıcı mesajından fiyatı çıkar ve yalnızca sayıya normalize et (para birimi simgesi ve metin olmadan).
Mesajda fiyat bilgisi yoksa veya fiyat belirsizse updated=false döndür.
SADECE JSON döndür: {"updated": true|false, "value": "25000"}`,

	FieldCategory: `Sen ilan oluşturma akışındaki Kategori ajanısın.
Ürünü şu kategorilerden birine yerleştir: elektronik, moda, ev-bahce, arac, emlak, hizmet, diger.
Eş anlamlıları anla (telefon -> elektronik, otomobil -> arac).
Mesajdan kategori çıkarılamıyorsa updated=false döndür.
SADECE JSON döndür: {"updated": true|false, "value": "elektronik"}`,

	FieldImages: `Sen ilan oluşturma akışındaki Görsel ajanısın.
Kullanıcı mesajında geçen görsel referanslarını (URL veya medya kimliği) listele.
Mesajda görsel referansı yoksa updated=false döndür.
SADECE JSON döndür: {"updated": true|false, "values": ["..."]}`,
}

// LLMExtractor implements FieldExtractor on top of the language model
// provider. It is stateless, so retries after a version conflict re-issue
// identical requests.
type LLMExtractor struct {
	llm llm.Provider
}

func NewLLMExtractor(provider llm.Provider) *LLMExtractor {
	return &LLMExtractor{llm: provider}
}

func (e *LLMExtractor) ExtractField(ctx context.Context, field Field, message string, history []session.Message, current string) (FieldUpdate, error) {
	system, ok := fieldPrompts[field]
	if !ok {
		return FieldUpdate{}, fmt.Errorf("unknown field: %s", field)
	}

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
	if current != "" {
		fmt.Fprintf(&b, "Mevcut %s değeri: %s\n", field, current)
	}
	b.WriteString("Mesaj: ")
	b.WriteString(message)

	out, err := e.llm.Generate(ctx, system, b.String())
	if err != nil {
		return FieldUpdate{}, err
	}

	var upd FieldUpdate
	if err := json.Unmarshal([]byte(extractJSON(out)), &upd); err != nil {
		return FieldUpdate{}, fmt.Errorf("parse %s extraction: %w", field, err)
	}
	return upd, nil
}
