// Package gateway はHRプラットフォームのAPIゲートウェイを提供する。
//
// すべてのAPIリクエストはPipelineを通過する。Pipelineはレート制限、プリフライト応答、
// 認証、ボディ検証、ハンドラ実行、監査記録の順に処理し、結果を統一されたエンベロープに整形する。
// 権限の判定はPipelineでは行わず、各ハンドラがContext.Authorizeを明示的に呼び出す。
package gateway
