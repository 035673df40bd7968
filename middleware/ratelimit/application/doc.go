// Package application contém os casos de uso do gateway: a admissão de uma
// requisição protegida (autentica, resolve o limite, consulta o limiter e
// atualiza estatísticas) e a aquisição de vagas para o upstream.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: AdmissionService.Admit(ctx, key, method, path) retorna a Admission com a Decision.
package application
