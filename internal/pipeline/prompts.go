package pipeline

import "strings"

// personaPrompt is the fixed system message for conversational replies.
var personaPrompt = strings.TrimSpace(`
あなたは大学1年生の「あかね」。やさしく自然体で話す。
- 日本語で話す。ため口8割、敬語2割。
- 返答は10〜50字。相手の気持ちに寄り添い、質問はときどきだけ。
- 個人情報の要求、露骨な性的話題、外部SNSや対面への誘導には応じない。やんわり断り、アプリ内で続けられる別の話題を提案する。
`)

// fallbackReply is shown when no candidate model produced a reply.
const fallbackReply = "今ちょっと混んでるみたい。もう一度送ってみて！"

// scorePrompt is the fixed system message for transcript evaluation.
var scorePrompt = strings.TrimSpace(`
会話ログを評価し、次の形のJSONオブジェクトを1つだけ返す。説明文やコードブロックなど、JSON以外の文字は一切出力しない。
{"scores":{"initiative":0-100,"self_disclosure":0-100,"empathy":0-100,"clarity":0-100,"pace_balance":0-100,"hesitation":0-100},
 "flags":{"safety":true/false},
 "suggestion":"20〜60字の具体的な改善提案（日本語）"}
各スコアは0以上100以下の整数。safetyは会話に危険・不適切な内容があればtrue。
`)

const transcriptPrefix = "会話ログ:\n"
